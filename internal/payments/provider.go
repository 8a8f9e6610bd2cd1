// Package payments connects the ledger to the payment provider: an
// outbound client that requests charges (auto-refill), and inbound
// webhook adapters that translate provider payloads into normalized
// ledger calls. Signature verification happens here; the ledger trusts
// normalized input.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cypher-asi/z-billing/internal/ids"
)

// HTTPProvider requests charges from the payment service over HTTP. The
// provider settles asynchronously and reports back through the payment
// webhook.
type HTTPProvider struct {
	url    string
	apiKey string
	client *http.Client
}

// ProviderOptions configures the HTTP payment provider.
type ProviderOptions struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewHTTPProvider(opts ProviderOptions) *HTTPProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &HTTPProvider{
		url:    opts.URL,
		apiKey: opts.APIKey,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

func (p *HTTPProvider) Charge(ctx context.Context, userID ids.UserID, amountCents int64) error {
	body, err := json.Marshal(map[string]any{
		"user_id":      userID.String(),
		"amount_cents": amountCents,
		"reason":       "auto_refill",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("payment provider status %d", resp.StatusCode)
	}
	return nil
}

// NoopProvider logs charge requests without contacting anything. Used
// when no payment provider is configured.
type NoopProvider struct {
	logger *slog.Logger
}

func NewNoopProvider(logger *slog.Logger) *NoopProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopProvider{logger: logger}
}

func (p *NoopProvider) Charge(_ context.Context, userID ids.UserID, amountCents int64) error {
	p.logger.Info("payment provider not configured, skipping charge",
		"user_id", userID.String(),
		"amount_cents", amountCents,
	)
	return nil
}
