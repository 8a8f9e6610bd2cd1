// Package app wires the runtime dependency graph shared by the HTTP
// server and background workers.
package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/cypher-asi/z-billing/internal/config"
	"github.com/cypher-asi/z-billing/internal/forward"
	"github.com/cypher-asi/z-billing/internal/ledger"
	"github.com/cypher-asi/z-billing/internal/observability"
	"github.com/cypher-asi/z-billing/internal/payments"
	"github.com/cypher-asi/z-billing/internal/store"
)

// Container aggregates runtime dependencies for handlers and workers.
type Container struct {
	Config               *config.Config
	Store                store.Store
	Ledger               *ledger.Service
	Forwarder            *forward.Forwarder
	Redis                *redis.Client
	PaymentWebhooks      *payments.PaymentWebhookAdapter
	SubscriptionWebhooks *payments.SubscriptionWebhookAdapter
	Observability        *observability.Provider
	Logger               *slog.Logger
}

// NewContainer builds the dependency graph. redisClient may be nil; the
// usage-response replay cache simply stays cold.
func NewContainer(ctx context.Context, cfg *config.Config, st store.Store, redisClient *redis.Client) (*Container, error) {
	logger := slog.Default()

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, err
	}

	var sink forward.AnalyticsSink
	if cfg.Analytics.URL != "" {
		sink = forward.NewWebhookSink(forward.WebhookOptions{
			URL:        cfg.Analytics.URL,
			APIKey:     cfg.Analytics.APIKey,
			Timeout:    cfg.Analytics.Timeout,
			MaxRetries: cfg.Analytics.MaxRetries,
		}, logger)
	} else {
		sink = forward.NewLogSink(logger)
	}
	forwarder := forward.NewForwarder(sink, forward.ForwarderOptions{
		QueueSize: cfg.Analytics.QueueSize,
		Timeout:   cfg.Analytics.Timeout,
	}, logger)

	var charger ledger.Charger
	if cfg.Payments.ChargeURL != "" {
		charger = payments.NewHTTPProvider(payments.ProviderOptions{
			URL:     cfg.Payments.ChargeURL,
			APIKey:  cfg.Payments.APIKey,
			Timeout: cfg.Payments.Timeout,
		})
	} else {
		charger = payments.NewNoopProvider(logger)
	}

	ledgerService := ledger.New(ledger.Options{
		Store:        st,
		Pricing:      cfg.BuildPricing(),
		Forwarder:    forwarder,
		Payments:     charger,
		Logger:       logger,
		PastDueGrace: cfg.Subscriptions.PastDueGrace(),
	})

	return &Container{
		Config:               cfg,
		Store:                st,
		Ledger:               ledgerService,
		Forwarder:            forwarder,
		Redis:                redisClient,
		PaymentWebhooks:      payments.NewPaymentWebhookAdapter(ledgerService, cfg.Payments.WebhookSecret, logger),
		SubscriptionWebhooks: payments.NewSubscriptionWebhookAdapter(ledgerService, cfg.Analytics.WebhookSecret, logger),
		Observability:        obs,
		Logger:               logger,
	}, nil
}
