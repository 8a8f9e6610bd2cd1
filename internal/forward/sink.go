// Package forward ships committed usage events to the analytics service.
// Delivery is best-effort: the ledger never waits on, and never fails
// because of, anything in this package.
package forward

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cypher-asi/z-billing/internal/billing"
)

// AnalyticsSink receives usage events after the ledger batch committed.
type AnalyticsSink interface {
	Forward(ctx context.Context, event *billing.UsageEvent) error
}

// LogSink records forwarded events to the logger. Used when no analytics
// endpoint is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Forward(_ context.Context, event *billing.UsageEvent) error {
	s.logger.Debug("analytics forward",
		"event_id", event.EventID,
		"user_id", event.UserID.String(),
		"metric", string(event.Metric.Type),
		"cost_cents", event.CostCents,
	)
	return nil
}

// CompositeSink fans events out to multiple sinks.
type CompositeSink struct {
	sinks []AnalyticsSink
}

func NewCompositeSink(sinks ...AnalyticsSink) AnalyticsSink {
	filtered := make([]AnalyticsSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) Forward(ctx context.Context, event *billing.UsageEvent) error {
	if c == nil {
		return nil
	}
	var err error
	for _, sink := range c.sinks {
		if forwardErr := sink.Forward(ctx, event); forwardErr != nil {
			err = errors.Join(err, forwardErr)
		}
	}
	return err
}
