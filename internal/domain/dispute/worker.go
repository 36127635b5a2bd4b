package dispute

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Settler runs the escrow settlement and reconciliation passes. Satisfied
// by escrow.Service.
type Settler interface {
	RunAutoSettlement(ctx context.Context, now time.Time, batchSize int) (int, error)
	Reconcile(ctx context.Context, now time.Time, batchSize int) error
}

// OfferExpirer forfeits waitlist offers past their deadline. Satisfied by
// booking.Service.
type OfferExpirer interface {
	ExpireOffers(ctx context.Context, now time.Time, limit int) (int, error)
}

// Worker periodically sweeps due settlements, stale authorizations and
// expired waitlist offers
type Worker struct {
	settler   Settler
	offers    OfferExpirer
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
}

// NewWorker creates settlement worker
func NewWorker(settler Settler, offers OfferExpirer, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		settler:   settler,
		offers:    offers,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting settlement worker...")
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *Worker) Stop() {
	log.Info().Msg("Stopping settlement worker...")
	close(w.stopCh)
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.sweep()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now()

	released, err := w.settler.RunAutoSettlement(ctx, now, w.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("auto-settlement sweep failed")
	} else if released > 0 {
		log.Info().Int("released", released).Msg("auto-settlement sweep completed")
	}

	if err := w.settler.Reconcile(ctx, now, w.batchSize); err != nil {
		log.Error().Err(err).Msg("escrow reconciliation failed")
	}

	if w.offers != nil {
		expired, err := w.offers.ExpireOffers(ctx, now, w.batchSize)
		if err != nil {
			log.Error().Err(err).Msg("waitlist offer expiry failed")
		} else if expired > 0 {
			log.Info().Int("expired", expired).Msg("waitlist offers forfeited")
		}
	}
}
