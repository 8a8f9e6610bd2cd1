package billing

import (
	"time"

	"github.com/cypher-asi/z-billing/internal/ids"
)

// MetricType discriminates the usage metric variants.
type MetricType string

const (
	MetricLLMTokens MetricType = "llm_tokens"
	MetricCompute   MetricType = "compute"
	MetricAPICalls  MetricType = "api_calls"
	MetricStorage   MetricType = "storage"
)

// TokenDirection marks LLM token usage as prompt or completion tokens.
type TokenDirection string

const (
	TokenInput  TokenDirection = "input"
	TokenOutput TokenDirection = "output"
)

// UsageMetric describes what was consumed. Only the fields for the active
// Type are populated.
type UsageMetric struct {
	Type MetricType `json:"type" cbor:"1,keyasint"`

	// LLM token fields.
	Provider  string         `json:"provider,omitempty" cbor:"2,keyasint,omitempty"`
	Model     string         `json:"model,omitempty" cbor:"3,keyasint,omitempty"`
	Direction TokenDirection `json:"direction,omitempty" cbor:"4,keyasint,omitempty"`

	// Compute fields.
	CPUHours      float64 `json:"cpu_hours,omitempty" cbor:"5,keyasint,omitempty"`
	MemoryGBHours float64 `json:"memory_gb_hours,omitempty" cbor:"6,keyasint,omitempty"`

	// API call fields.
	Endpoint string `json:"endpoint,omitempty" cbor:"7,keyasint,omitempty"`

	// Storage fields.
	GBHours float64 `json:"gb_hours,omitempty" cbor:"8,keyasint,omitempty"`
}

// UsageEvent is a caller-submitted consumption record. EventID is unique
// across all time and doubles as the idempotency key for the deduction.
type UsageEvent struct {
	EventID string       `json:"event_id" cbor:"1,keyasint"`
	UserID  ids.UserID   `json:"user_id" cbor:"2,keyasint"`
	AgentID *ids.AgentID `json:"agent_id,omitempty" cbor:"3,keyasint,omitempty"`

	// Source names the service that reported the usage.
	Source string `json:"source" cbor:"4,keyasint"`

	Metric   UsageMetric `json:"metric" cbor:"5,keyasint"`
	Quantity float64     `json:"quantity" cbor:"6,keyasint"`

	// CostCents is the amount deducted for this event.
	CostCents int64 `json:"cost_cents" cbor:"7,keyasint"`

	Timestamp time.Time      `json:"timestamp" cbor:"8,keyasint"`
	Metadata  map[string]any `json:"metadata,omitempty" cbor:"9,keyasint,omitempty"`
}
