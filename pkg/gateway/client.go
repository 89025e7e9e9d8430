package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	// URL is the base URL of the payment processor API
	URL string `toml:"url"`
	// SecretKey authenticates API calls
	SecretKey string `toml:"secret_key"`
	// Timeout bounds a single charge attempt
	Timeout Duration `toml:"timeout"`
}

// Client is an HTTP client for the processor's charges endpoint.
type Client struct {
	url    string
	secret string
	client *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(config *Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("gateway URL is required")
	}

	timeout := config.Timeout.Duration
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		url:    config.URL,
		secret: config.SecretKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type chargeBody struct {
	Source         string `json:"source"`
	Amount         int64  `json:"amount"`
	ApplicationFee int64  `json:"application_fee,omitempty"`
	Destination    string `json:"destination,omitempty"`
	Currency       string `json:"currency"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(chargeBody{
		Source:         req.CredentialToken,
		Amount:         int64(req.AmountCents),
		ApplicationFee: int64(req.PlatformFeeCents),
		Destination:    req.PayoutDestination,
		Currency:       "usd",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize charge request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/charges", c.url), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build charge request")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.secret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Timeouts land here. The caller must treat this as a failed
		// charge, never as success.
		return nil, errors.Wrap(err, "charge request failed")
	}
	defer resp.Body.Close()

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to decode charge response")
	}

	log.WithFields(log.Fields{
		"status": out.Status,
		"code":   resp.StatusCode,
	}).Debug("gateway response")

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || out.Status == "declined":
		reason := out.FailureReason
		if reason == "" {
			reason = "card declined"
		}
		return nil, &DeclineError{Reason: reason}
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("gateway error: status %d", resp.StatusCode)
	}

	return &ChargeResult{TransactionID: out.ID}, nil
}

// Duration is a TOML friendly time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}
