// Package pricing turns resource quantities into integer credit costs.
// 1 credit = 1 cent. The config is read-only after load and shared by all
// handlers.
package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrStorageUnpriced is returned while no storage rate is configured.
var ErrStorageUnpriced = errors.New("storage pricing not configured")

const tokensPerUnit = 1_000_000

// ModelKey identifies an LLM pricing entry.
type ModelKey struct {
	Provider string
	Model    string
}

// LLMPricing is the per-million-token rate pair for one model.
type LLMPricing struct {
	InputCreditsPerMillion  int64 `mapstructure:"input_credits_per_million" json:"input_credits_per_million"`
	OutputCreditsPerMillion int64 `mapstructure:"output_credits_per_million" json:"output_credits_per_million"`
}

// Config holds the rates for all billable resources.
type Config struct {
	// ZCreditRateUSD is the exchange rate (0.01 = 1 credit = $0.01).
	ZCreditRateUSD float64

	CPUHourCredits      int64
	MemoryGBHourCredits int64

	// StorageGBHourCredits is an optional hook; zero means storage usage
	// cannot be priced and is rejected.
	StorageGBHourCredits int64

	LLMPricing map[ModelKey]LLMPricing

	// DefaultLLMPricing applies to models missing from the table.
	DefaultLLMPricing LLMPricing
}

// Default returns the built-in pricing table.
func Default() *Config {
	return &Config{
		ZCreditRateUSD:      0.01,
		CPUHourCredits:      6, // $0.06 per CPU hour
		MemoryGBHourCredits: 2, // $0.02 per GB-hour
		LLMPricing: map[ModelKey]LLMPricing{
			{"anthropic", "claude-3-5-sonnet"}:          {300, 1500},
			{"anthropic", "claude-3-5-sonnet-20241022"}: {300, 1500},
			{"anthropic", "claude-3-haiku"}:             {25, 125},
			{"anthropic", "claude-3-opus"}:              {1500, 7500},
			{"openai", "gpt-4-turbo"}:                   {1000, 3000},
			{"openai", "gpt-4o"}:                        {250, 1000},
			{"openai", "gpt-4o-mini"}:                   {15, 60},
			{"google", "gemini-1.5-pro"}:                {125, 500},
			{"google", "gemini-1.5-flash"}:              {8, 30},
		},
		DefaultLLMPricing: LLMPricing{
			InputCreditsPerMillion:  100, // $1.00 per 1M
			OutputCreditsPerMillion: 300, // $3.00 per 1M
		},
	}
}

// CalculateLLMCost prices token usage for (provider, model), falling back
// to the default entry for unknown models. Per-direction costs truncate
// toward zero; any non-zero usage costs at least 1 credit.
func (c *Config) CalculateLLMCost(provider, model string, inputTokens, outputTokens uint64) int64 {
	rate, ok := c.LLMPricing[ModelKey{Provider: provider, Model: model}]
	if !ok {
		rate = c.DefaultLLMPricing
	}

	inputCost := clampTokens(inputTokens) * rate.InputCreditsPerMillion / tokensPerUnit
	outputCost := clampTokens(outputTokens) * rate.OutputCreditsPerMillion / tokensPerUnit

	total := inputCost + outputCost
	if total == 0 && (inputTokens > 0 || outputTokens > 0) {
		return 1
	}
	return total
}

// CalculateComputeCost prices CPU and memory consumption. Fractional
// hours round half away from zero; any non-zero usage costs at least 1
// credit.
func (c *Config) CalculateComputeCost(cpuHours, memoryGBHours float64) int64 {
	cpuCost := int64(math.Round(cpuHours * float64(c.CPUHourCredits)))
	memoryCost := int64(math.Round(memoryGBHours * float64(c.MemoryGBHourCredits)))

	total := cpuCost + memoryCost
	if total == 0 && (cpuHours > 0 || memoryGBHours > 0) {
		return 1
	}
	return total
}

// CalculateAPICallsCost prices API call volume at 1 credit per 1000
// calls, minimum 1.
func (c *Config) CalculateAPICallsCost(count uint64) int64 {
	cost := clampTokens(count) / 1000
	if cost < 1 {
		return 1
	}
	return cost
}

// CalculateStorageCost prices storage GB-hours once a rate is configured.
func (c *Config) CalculateStorageCost(gbHours float64) (int64, error) {
	if c.StorageGBHourCredits == 0 {
		return 0, ErrStorageUnpriced
	}
	cost := int64(math.Round(gbHours * float64(c.StorageGBHourCredits)))
	if cost == 0 && gbHours > 0 {
		return 1, nil
	}
	return cost, nil
}

// USDToCredits converts a dollar amount to whole credits at the
// configured rate.
func (c *Config) USDToCredits(usd float64) int64 {
	return decimal.NewFromFloat(usd).
		Div(decimal.NewFromFloat(c.ZCreditRateUSD)).
		Round(0).
		IntPart()
}

// CreditsToUSD converts credits back to dollars.
func (c *Config) CreditsToUSD(credits int64) float64 {
	usd, _ := decimal.NewFromInt(credits).
		Mul(decimal.NewFromFloat(c.ZCreditRateUSD)).
		Float64()
	return usd
}

func clampTokens(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
