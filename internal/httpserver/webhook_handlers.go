package httpserver

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/cypher-asi/z-billing/internal/httpserver/httputil"
	"github.com/cypher-asi/z-billing/internal/payments"
)

// paymentWebhook handles POST /webhooks/payments.
func (h *handlers) paymentWebhook(c *fiber.Ctx) error {
	err := h.container.PaymentWebhooks.HandleEvent(c.UserContext(), c.Body(), c.Get("X-Payment-Signature"))
	h.container.Observability.RecordLedgerOp("payment_webhook", err)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "invalid webhook signature", nil)
		}
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{"received": true})
}

// subscriptionWebhook handles POST /webhooks/subscriptions.
func (h *handlers) subscriptionWebhook(c *fiber.Ctx) error {
	err := h.container.SubscriptionWebhooks.HandleEvent(c.UserContext(), c.Body(), c.Get("X-Subscription-Signature"))
	h.container.Observability.RecordLedgerOp("subscription_webhook", err)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "invalid webhook signature", nil)
		}
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
