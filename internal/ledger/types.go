package ledger

import (
	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
)

// MetricRequest is the caller-facing metric shape. LLM token usage may
// arrive either as explicit input/output counts or as a single count with
// a direction; Normalize folds the latter into the former.
type MetricRequest struct {
	Type billing.MetricType

	// LLM token fields.
	Provider     string
	Model        string
	InputTokens  uint64
	OutputTokens uint64
	Direction    billing.TokenDirection
	Tokens       uint64

	// Compute fields.
	CPUHours      float64
	MemoryGBHours float64

	// API call fields.
	Endpoint string
	Count    uint64

	// Storage fields.
	GBHours float64
}

// Normalize resolves the (direction, tokens) form into input/output
// token counts.
func (m *MetricRequest) Normalize() {
	if m.Type != billing.MetricLLMTokens || m.Tokens == 0 {
		return
	}
	switch m.Direction {
	case billing.TokenOutput:
		m.OutputTokens += m.Tokens
	default:
		m.InputTokens += m.Tokens
	}
	m.Tokens = 0
}

// UsageRequest describes one usage report.
type UsageRequest struct {
	EventID string
	UserID  ids.UserID
	AgentID *ids.AgentID
	Source  string
	Metric  MetricRequest

	// CostCents overrides the computed cost when the caller priced the
	// event itself.
	CostCents *int64

	Metadata map[string]any
}

// UsageResult is returned from a successful usage report.
type UsageResult struct {
	BalanceCents  int64
	CostCents     int64
	TransactionID ids.TransactionID
}

// BatchResult reports the outcome for one event of a batch.
type BatchResult struct {
	EventID   string
	Success   bool
	CostCents int64
	Err       error
}

// BalanceCheck is the read-only sufficiency answer.
type BalanceCheck struct {
	Sufficient    bool
	BalanceCents  int64
	RequiredCents int64
}
