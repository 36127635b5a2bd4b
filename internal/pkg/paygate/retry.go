package paygate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

func transient(err error) error { return transientError{err: err} }
func permanent(err error) error { return err }

const baseBackoff = 500 * time.Millisecond

// withRetry runs fn up to maxAttempts times, backing off exponentially on
// transient errors. Permanent errors abort immediately. When attempts are
// exhausted the caller gets ErrUnavailable so financial operations can be
// routed to manual intervention instead of being retried forever.
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var te transientError
		if !errors.As(err, &te) {
			return err
		}
		lastErr = te.err

		if attempt == maxAttempts {
			break
		}

		backoff := baseBackoff << (attempt - 1)
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("gateway call failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Join(ErrUnavailable, lastErr)
}
