package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Intent status values reported by the gateway.
const (
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusRefunded   = "refunded"
	StatusDeclined   = "declined"
	StatusCancelled  = "cancelled"
)

var (
	// ErrDeclined is returned when the gateway rejects the payment instrument.
	ErrDeclined = errors.New("payment declined by gateway")
	// ErrUnavailable is returned after retries are exhausted on transient failures.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Config holds gateway API configuration
type Config struct {
	BaseURL     string
	MerchantID  string
	SecretKey   string
	Timeout     time.Duration
	MaxAttempts int
}

// Client is a thin orchestrator over the hosted payment gateway. It never
// assumes success without a confirmed status in the gateway response.
type Client struct {
	httpClient *http.Client
	config     Config
}

// AuthorizeRequest represents an authorization attempt
type AuthorizeRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Instrument     string `json:"instrument"`
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Intent represents the gateway's view of a payment intent
type Intent struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// Authorize places a hold on the payer's instrument
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("validation error: order_id must be non-empty")
	}

	var out Intent
	if err := c.call(ctx, http.MethodPost, "/v1/intents/authorize", req, &out); err != nil {
		return nil, err
	}
	if out.Status == StatusDeclined {
		return &out, ErrDeclined
	}
	return &out, nil
}

// Capture moves an authorized hold into a charge. Safe to retry with the
// same idempotency key.
func (c *Client) Capture(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	body := map[string]string{"idempotency_key": idempotencyKey}
	var out Intent
	if err := c.call(ctx, http.MethodPost, "/v1/intents/"+intentID+"/capture", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refund returns part or all of a captured charge to the payer
func (c *Client) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Intent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	body := map[string]interface{}{"amount": amount, "idempotency_key": idempotencyKey}
	var out Intent
	if err := c.call(ctx, http.MethodPost, "/v1/intents/"+intentID+"/refund", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retrieve fetches the gateway's authoritative status for an intent.
// Used to reconcile intents left in limbo by a network failure.
func (c *Client) Retrieve(ctx context.Context, intentID string) (*Intent, error) {
	var out Intent
	if err := c.call(ctx, http.MethodGet, "/v1/intents/"+intentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one HTTP exchange with retry on transient failures.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("gateway client is not initialized")
	}
	if strings.TrimSpace(c.config.BaseURL) == "" {
		return fmt.Errorf("gateway config error: base_url is empty")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path

	return withRetry(ctx, c.config.MaxAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		httpReq, err := http.NewRequestWithContext(callCtx, method, url, reader)
		if err != nil {
			return permanent(fmt.Errorf("gateway api call failed: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
		httpReq.Header.Set("X-Merchant-ID", c.config.MerchantID)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return transient(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return transient(err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return permanent(fmt.Errorf("failed to parse gateway response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
			return permanent(ErrDeclined)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return transient(fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody)))
		default:
			return permanent(fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody)))
		}
	})
}
