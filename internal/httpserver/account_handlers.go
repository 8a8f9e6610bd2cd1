package httpserver

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/httpserver/httputil"
	"github.com/cypher-asi/z-billing/internal/ids"
)

type createAccountBody struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// createAccount handles POST /v1/accounts.
func (h *handlers) createAccount(c *fiber.Ctx) error {
	var body createAccountBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}
	userID, err := ids.ParseUserID(body.UserID)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}

	account, err := h.container.Ledger.CreateAccount(c.UserContext(), userID, body.Email)
	h.container.Observability.RecordLedgerOp("create_account", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id":       account.UserID.String(),
		"balance_cents": account.BalanceCents,
		"created_at":    account.CreatedAt.Format(time.RFC3339),
	})
}

// deleteAccount handles DELETE /v1/accounts/:user_id.
func (h *handlers) deleteAccount(c *fiber.Ctx) error {
	userID, err := ids.ParseUserID(c.Params("user_id"))
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	err = h.container.Ledger.DeleteAccount(c.UserContext(), userID)
	h.container.Observability.RecordLedgerOp("delete_account", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// getBalance handles GET /v1/credits/balance.
func (h *handlers) getBalance(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing authenticated user", nil)
	}

	account, err := h.container.Ledger.GetAccount(c.UserContext(), userID)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{
		"balance_cents":     account.BalanceCents,
		"balance_formatted": fmt.Sprintf("$%.2f", h.container.Ledger.Pricing().CreditsToUSD(account.BalanceCents)),
		"plan":              string(account.CurrentPlan()),
	})
}

type transactionResponse struct {
	ID                string `json:"id"`
	AmountCents       int64  `json:"amount_cents"`
	TransactionType   string `json:"transaction_type"`
	BalanceAfterCents int64  `json:"balance_after_cents"`
	Description       string `json:"description"`
	CreatedAt         string `json:"created_at"`
}

// listTransactions handles GET /v1/credits/transactions.
func (h *handlers) listTransactions(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing authenticated user", nil)
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	transactions, hasMore, err := h.container.Ledger.ListTransactions(c.UserContext(), userID, limit, offset)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}

	out := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		out = append(out, transactionResponse{
			ID:                tx.ID.String(),
			AmountCents:       tx.AmountCents,
			TransactionType:   string(tx.Type),
			BalanceAfterCents: tx.BalanceAfterCents,
			Description:       tx.Description,
			CreatedAt:         tx.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{
		"transactions": out,
		"has_more":     hasMore,
	})
}

type autoRefillBody struct {
	Enabled           bool   `json:"enabled"`
	TriggerBelowCents *int64 `json:"trigger_below_cents"`
	RefillAmountCents *int64 `json:"refill_amount_cents"`
}

// configureAutoRefill handles PUT /v1/credits/auto-refill.
func (h *handlers) configureAutoRefill(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing authenticated user", nil)
	}

	var body autoRefillBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}

	cfg := billing.DefaultAutoRefill()
	cfg.Enabled = body.Enabled
	if body.TriggerBelowCents != nil {
		cfg.TriggerBelowCents = *body.TriggerBelowCents
	}
	if body.RefillAmountCents != nil {
		cfg.RefillAmountCents = *body.RefillAmountCents
	}

	account, err := h.container.Ledger.ConfigureAutoRefill(c.UserContext(), userID, cfg)
	h.container.Observability.RecordLedgerOp("configure_auto_refill", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{"auto_refill": account.AutoRefill})
}

type purchaseBody struct {
	AmountUSD float64 `json:"amount_usd"`
}

// preparePurchase handles POST /v1/credits/purchase. It quotes the
// checkout amount with the plan discount applied; the payment provider
// settles through the payment webhook.
func (h *handlers) preparePurchase(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "missing authenticated user", nil)
	}

	var body purchaseBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}

	quote, err := h.container.Ledger.PreparePurchase(c.UserContext(), userID, body.AmountUSD)
	h.container.Observability.RecordLedgerOp("prepare_purchase", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{
		"amount_usd":       quote.AmountUSD,
		"charge_cents":     quote.ChargeCents,
		"credits_cents":    quote.CreditsCents,
		"discount_percent": quote.DiscountPercent,
	})
}

type adminAddCreditsBody struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// adminAddCredits handles POST /v1/admin/credits (bonus/promo credits).
func (h *handlers) adminAddCredits(c *fiber.Ctx) error {
	var body adminAddCreditsBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}
	userID, err := ids.ParseUserID(body.UserID)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}

	balance, txID, err := h.container.Ledger.AddBonus(c.UserContext(), userID, body.AmountCents, body.Reason)
	h.container.Observability.RecordLedgerOp("add_bonus", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	h.container.Observability.RecordCredits(string(billing.TransactionBonus), body.AmountCents)
	return c.JSON(fiber.Map{
		"balance_cents":  balance,
		"transaction_id": txID.String(),
	})
}
