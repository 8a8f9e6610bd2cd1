package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/ledger"
)

// PaymentWebhookAdapter turns payment provider events into ledger calls.
type PaymentWebhookAdapter struct {
	ledger *ledger.Service
	secret string
	logger *slog.Logger
}

func NewPaymentWebhookAdapter(svc *ledger.Service, secret string, logger *slog.Logger) *PaymentWebhookAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentWebhookAdapter{ledger: svc, secret: secret, logger: logger}
}

// paymentEvent is the provider's envelope.
type paymentEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
	AmountTotal       int64  `json:"amount_total"`
	Metadata          struct {
		CreditsAmount string `json:"credits_amount"`
		ChargeReason  string `json:"charge_reason"`
	} `json:"metadata"`
}

type invoiceObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer_reference"`
}

type paymentIntentObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type subscriptionObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleEvent verifies the signature, parses the payload, and applies
// the event. Unknown event types are acknowledged and ignored.
func (a *PaymentWebhookAdapter) HandleEvent(ctx context.Context, body []byte, signature string) error {
	if err := verifySignature(a.secret, body, signature); err != nil {
		return err
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("parse payment webhook: %w", err)
	}

	a.logger.Info("payment webhook received", "type", event.Type, "event_id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		return a.handleCheckoutCompleted(ctx, event.Data.Object)
	case "payment_intent.succeeded":
		return a.handlePaymentIntentSucceeded(event.Data.Object)
	case "invoice.payment_failed":
		return a.handlePaymentFailed(ctx, event.Data.Object)
	case "invoice.payment_succeeded":
		return a.handlePaymentSucceeded(ctx, event.Data.Object)
	case "customer.subscription.created", "customer.subscription.updated":
		return a.handleSubscriptionUpdated(event.Data.Object)
	case "customer.subscription.deleted":
		return a.handleSubscriptionDeleted(event.Data.Object)
	default:
		a.logger.Debug("unhandled payment event", "type", event.Type)
		return nil
	}
}

func (a *PaymentWebhookAdapter) handleCheckoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var session checkoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}
	if session.PaymentStatus != "paid" {
		a.logger.Info("checkout session not paid yet, skipping", "session_id", session.ID)
		return nil
	}

	userID, err := ids.ParseUserID(session.ClientReferenceID)
	if err != nil {
		return err
	}

	credits := session.AmountTotal
	if session.Metadata.CreditsAmount != "" {
		if _, scanErr := fmt.Sscan(session.Metadata.CreditsAmount, &credits); scanErr != nil {
			credits = session.AmountTotal
		}
	}

	txType := billing.TransactionPurchase
	description := fmt.Sprintf("Purchased $%.2f credits (session: %s)", float64(session.AmountTotal)/100, session.ID)
	if session.Metadata.ChargeReason == "auto_refill" {
		txType = billing.TransactionAutoRefill
		description = fmt.Sprintf("Auto-refill of %d credits (session: %s)", credits, session.ID)
	}

	_, err = a.ledger.PurchaseCompleted(ctx, userID, credits, session.ID, txType, description)
	return err
}

// handlePaymentIntentSucceeded acknowledges the settlement notice. The
// credit itself lands through checkout.session.completed, which carries
// the user reference and credit amount.
func (a *PaymentWebhookAdapter) handlePaymentIntentSucceeded(raw json.RawMessage) error {
	var intent paymentIntentObject
	if err := json.Unmarshal(raw, &intent); err != nil {
		return fmt.Errorf("parse payment intent: %w", err)
	}
	a.logger.Info("payment succeeded", "payment_intent_id", intent.ID)
	return nil
}

// handleSubscriptionUpdated acknowledges the payment provider's copy of
// a subscription change. The authoritative lifecycle arrives through the
// subscription provider's webhook.
func (a *PaymentWebhookAdapter) handleSubscriptionUpdated(raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	a.logger.Info("subscription updated", "subscription_id", sub.ID, "status", sub.Status)
	return nil
}

func (a *PaymentWebhookAdapter) handleSubscriptionDeleted(raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	a.logger.Info("subscription deleted", "subscription_id", sub.ID)
	return nil
}

func (a *PaymentWebhookAdapter) handlePaymentFailed(ctx context.Context, raw json.RawMessage) error {
	var invoice invoiceObject
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	userID, err := ids.ParseUserID(invoice.Customer)
	if err != nil {
		return err
	}
	return a.ledger.ApplySubscriptionEvent(ctx, ledger.SubscriptionEvent{
		Type:   ledger.SubscriptionPaymentFailed,
		UserID: userID,
	})
}

func (a *PaymentWebhookAdapter) handlePaymentSucceeded(ctx context.Context, raw json.RawMessage) error {
	var invoice invoiceObject
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	userID, err := ids.ParseUserID(invoice.Customer)
	if err != nil {
		return err
	}
	return a.ledger.ApplySubscriptionEvent(ctx, ledger.SubscriptionEvent{
		Type:   ledger.SubscriptionPaymentSucceeded,
		UserID: userID,
	})
}
