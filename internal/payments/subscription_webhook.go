package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/ledger"
)

// SubscriptionWebhookAdapter turns subscription billing events into
// normalized state transitions and credit grants.
type SubscriptionWebhookAdapter struct {
	ledger *ledger.Service
	secret string
	logger *slog.Logger
}

func NewSubscriptionWebhookAdapter(svc *ledger.Service, secret string, logger *slog.Logger) *SubscriptionWebhookAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionWebhookAdapter{ledger: svc, secret: secret, logger: logger}
}

type subscriptionWebhook struct {
	WebhookType  string `json:"webhook_type"`
	Subscription struct {
		ExternalCustomerID string     `json:"external_customer_id"`
		ExternalID         string     `json:"external_subscription_id"`
		PlanCode           string     `json:"plan_code"`
		PeriodStart        *time.Time `json:"current_period_start"`
		PeriodEnd          *time.Time `json:"current_period_end"`
	} `json:"subscription"`
}

// HandleEvent verifies and applies one subscription event. Unknown types
// are acknowledged and ignored.
func (a *SubscriptionWebhookAdapter) HandleEvent(ctx context.Context, body []byte, signature string) error {
	if err := verifySignature(a.secret, body, signature); err != nil {
		return err
	}

	var hook subscriptionWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return fmt.Errorf("parse subscription webhook: %w", err)
	}

	a.logger.Info("subscription webhook received", "type", hook.WebhookType)

	eventType, ok := map[string]ledger.SubscriptionEventType{
		"subscription.started":      ledger.SubscriptionStarted,
		"subscription.renewed":      ledger.SubscriptionRenewed,
		"subscription.cancelled":    ledger.SubscriptionCancelledEvent,
		"subscription.resubscribed": ledger.SubscriptionResubscribed,
		"subscription.terminated":   ledger.SubscriptionTerminated,
	}[hook.WebhookType]
	if !ok {
		a.logger.Debug("unhandled subscription event", "type", hook.WebhookType)
		return nil
	}

	userID, err := ids.ParseUserID(hook.Subscription.ExternalCustomerID)
	if err != nil {
		return err
	}

	event := ledger.SubscriptionEvent{
		Type:       eventType,
		UserID:     userID,
		ExternalID: hook.Subscription.ExternalID,
	}
	if hook.Subscription.PlanCode != "" {
		plan, ok := billing.ParsePlan(hook.Subscription.PlanCode)
		if !ok {
			return fmt.Errorf("unknown plan code %q", hook.Subscription.PlanCode)
		}
		event.Plan = plan
	}
	if hook.Subscription.PeriodStart != nil {
		event.PeriodStart = hook.Subscription.PeriodStart.UTC()
	}
	if hook.Subscription.PeriodEnd != nil {
		event.PeriodEnd = hook.Subscription.PeriodEnd.UTC()
	}

	return a.ledger.ApplySubscriptionEvent(ctx, event)
}
