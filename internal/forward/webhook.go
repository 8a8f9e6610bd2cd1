package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cypher-asi/z-billing/internal/billing"
)

// WebhookSink posts usage events to the analytics service over HTTP.
type WebhookSink struct {
	url        string
	apiKey     string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// WebhookOptions configures a WebhookSink.
type WebhookOptions struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

func NewWebhookSink(opts WebhookOptions, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	return &WebhookSink{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		client:     &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

func (s *WebhookSink) Forward(ctx context.Context, event *billing.UsageEvent) error {
	body, err := json.Marshal(analyticsEvent{
		EventID:   event.EventID,
		UserID:    event.UserID.String(),
		AgentID:   agentIDString(event),
		Source:    event.Source,
		Metric:    event.Metric,
		Quantity:  event.Quantity,
		CostCents: event.CostCents,
		Timestamp: event.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}
	return s.postWithRetries(ctx, body)
}

func (s *WebhookSink) postWithRetries(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.post(ctx, body); err != nil {
			lastErr = err
			delay := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func agentIDString(event *billing.UsageEvent) string {
	if event.AgentID == nil {
		return ""
	}
	return event.AgentID.String()
}

type analyticsEvent struct {
	EventID   string              `json:"event_id"`
	UserID    string              `json:"user_id"`
	AgentID   string              `json:"agent_id,omitempty"`
	Source    string              `json:"source"`
	Metric    billing.UsageMetric `json:"metric"`
	Quantity  float64             `json:"quantity"`
	CostCents int64               `json:"cost_cents"`
	Timestamp time.Time           `json:"timestamp"`
}
