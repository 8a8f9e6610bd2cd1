package httpserver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cypher-asi/z-billing/internal/app"
	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/httpserver/httputil"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/ledger"
)

type handlers struct {
	container *app.Container
	replay    *replayCache
}

// usageBody is the wire shape of a usage report.
type usageBody struct {
	EventID   string         `json:"event_id"`
	UserID    string         `json:"user_id"`
	AgentID   *string        `json:"agent_id"`
	Source    string         `json:"source"`
	Metric    metricBody     `json:"metric"`
	CostCents *int64         `json:"cost_cents"`
	Metadata  map[string]any `json:"metadata"`
}

// metricBody is the tagged metric union. llm_tokens accepts either
// (direction, tokens) or (input_tokens, output_tokens).
type metricBody struct {
	Type string `json:"type"`

	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Direction    string `json:"direction"`
	Tokens       uint64 `json:"tokens"`
	InputTokens  uint64 `json:"input_tokens"`
	OutputTokens uint64 `json:"output_tokens"`

	CPUHours      float64 `json:"cpu_hours"`
	MemoryGBHours float64 `json:"memory_gb_hours"`

	Endpoint string `json:"endpoint"`
	Count    uint64 `json:"count"`

	GBHours float64 `json:"gb_hours"`
}

type usageResponse struct {
	Success       bool   `json:"success"`
	BalanceCents  int64  `json:"balance_cents"`
	CostCents     int64  `json:"cost_cents"`
	TransactionID string `json:"transaction_id"`
}

func (b *usageBody) toRequest() (ledger.UsageRequest, error) {
	userID, err := ids.ParseUserID(b.UserID)
	if err != nil {
		return ledger.UsageRequest{}, err
	}

	req := ledger.UsageRequest{
		EventID: b.EventID,
		UserID:  userID,
		Source:  b.Source,
		Metric: ledger.MetricRequest{
			Type:          billing.MetricType(b.Metric.Type),
			Provider:      b.Metric.Provider,
			Model:         b.Metric.Model,
			Direction:     billing.TokenDirection(b.Metric.Direction),
			Tokens:        b.Metric.Tokens,
			InputTokens:   b.Metric.InputTokens,
			OutputTokens:  b.Metric.OutputTokens,
			CPUHours:      b.Metric.CPUHours,
			MemoryGBHours: b.Metric.MemoryGBHours,
			Endpoint:      b.Metric.Endpoint,
			Count:         b.Metric.Count,
			GBHours:       b.Metric.GBHours,
		},
		CostCents: b.CostCents,
		Metadata:  b.Metadata,
	}
	if b.AgentID != nil && *b.AgentID != "" {
		agentID, err := ids.ParseAgentID(*b.AgentID)
		if err != nil {
			return ledger.UsageRequest{}, err
		}
		req.AgentID = &agentID
	}
	return req, nil
}

// reportUsage handles POST /v1/usage.
func (h *handlers) reportUsage(c *fiber.Ctx) error {
	var body usageBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}

	req, err := body.toRequest()
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}

	// A retried request whose commit already succeeded gets its original
	// response back instead of the 409 path.
	if cached, ok := h.replay.load(c.UserContext(), req.UserID, req.EventID); ok {
		c.Set("X-Replayed", "true")
		return c.JSON(cached)
	}

	result, err := h.container.Ledger.ReportUsage(c.UserContext(), req)
	h.container.Observability.RecordLedgerOp("report_usage", err)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	h.container.Observability.RecordCredits(string(billing.TransactionUsage), result.CostCents)

	response := usageResponse{
		Success:       true,
		BalanceCents:  result.BalanceCents,
		CostCents:     result.CostCents,
		TransactionID: result.TransactionID.String(),
	}
	h.replay.store(c.UserContext(), req.UserID, req.EventID, response)
	return c.JSON(response)
}

type batchBody struct {
	Events []usageBody `json:"events"`
}

type batchResult struct {
	EventID   string `json:"event_id"`
	Success   bool   `json:"success"`
	CostCents *int64 `json:"cost_cents,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type batchResponse struct {
	Results   []batchResult `json:"results"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
}

// reportUsageBatch handles POST /v1/usage/batch. Events run in order;
// per-event failures never abort the batch.
func (h *handlers) reportUsageBatch(c *fiber.Ctx) error {
	var body batchBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}

	response := batchResponse{Results: make([]batchResult, 0, len(body.Events))}
	for _, event := range body.Events {
		req, err := event.toRequest()
		if err == nil {
			var result *ledger.UsageResult
			result, err = h.container.Ledger.ReportUsage(c.UserContext(), req)
			if err == nil {
				cost := result.CostCents
				response.Results = append(response.Results, batchResult{
					EventID:   event.EventID,
					Success:   true,
					CostCents: &cost,
				})
				response.Processed++
				continue
			}
		}
		response.Results = append(response.Results, batchResult{
			EventID: event.EventID,
			Error:   err.Error(),
			Code:    httputil.ErrorCode(err),
		})
		response.Failed++
	}
	h.container.Observability.RecordLedgerOp("report_usage_batch", nil)
	return c.JSON(response)
}

type checkBalanceBody struct {
	UserID        string `json:"user_id"`
	RequiredCents int64  `json:"required_cents"`
}

// checkBalance handles POST /v1/usage/check-balance.
func (h *handlers) checkBalance(c *fiber.Ctx) error {
	var body checkBalanceBody
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "malformed request body", nil)
	}
	userID, err := ids.ParseUserID(body.UserID)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}

	check, err := h.container.Ledger.CheckBalance(c.UserContext(), userID, body.RequiredCents)
	if err != nil {
		return httputil.WriteLedgerError(c, err)
	}
	return c.JSON(fiber.Map{
		"sufficient":     check.Sufficient,
		"balance_cents":  check.BalanceCents,
		"required_cents": check.RequiredCents,
	})
}
