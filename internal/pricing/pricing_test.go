package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLLMCostKnownModels(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name          string
		provider      string
		model         string
		inputTokens   uint64
		outputTokens  uint64
		expectedCents int64
	}{
		{"claude sonnet mixed", "anthropic", "claude-3-5-sonnet", 10_000, 5_000, 10},
		{"gpt-4o input only", "openai", "gpt-4o", 1_000_000, 0, 250},
		{"gemini flash mixed", "google", "gemini-1.5-flash", 500_000, 100_000, 7},
		{"unknown model uses default", "unknown", "mystery-model", 1_000_000, 0, 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cost := cfg.CalculateLLMCost(tc.provider, tc.model, tc.inputTokens, tc.outputTokens)
			assert.Equal(t, tc.expectedCents, cost)
		})
	}
}

func TestCalculateLLMCostMinimumCharge(t *testing.T) {
	cfg := Default()

	// Tiny usage rounds down to zero but still costs 1 credit.
	assert.Equal(t, int64(1), cfg.CalculateLLMCost("anthropic", "claude-3-5-sonnet", 100, 50))
	assert.Equal(t, int64(1), cfg.CalculateLLMCost("anthropic", "claude-3-5-sonnet", 500, 1000))

	// Zero tokens cost nothing.
	assert.Equal(t, int64(0), cfg.CalculateLLMCost("anthropic", "claude-3-5-sonnet", 0, 0))
}

func TestCalculateComputeCost(t *testing.T) {
	cfg := Default()

	// 2 CPU-hours at 6 + 4 GB-hours at 2.
	assert.Equal(t, int64(20), cfg.CalculateComputeCost(2.0, 4.0))

	// Rounds half away from zero: 1.25 GB-hours at 2 is 2.5.
	assert.Equal(t, int64(3), cfg.CalculateComputeCost(0.0, 1.25))

	// Minimum charge for any non-zero quantity.
	assert.Equal(t, int64(1), cfg.CalculateComputeCost(0.01, 0.0))
	assert.Equal(t, int64(0), cfg.CalculateComputeCost(0, 0))
}

func TestCalculateAPICallsCost(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(1), cfg.CalculateAPICallsCost(1))
	assert.Equal(t, int64(1), cfg.CalculateAPICallsCost(999))
	assert.Equal(t, int64(2), cfg.CalculateAPICallsCost(2500))
}

func TestCalculateStorageCostRequiresRate(t *testing.T) {
	cfg := Default()

	_, err := cfg.CalculateStorageCost(10)
	assert.ErrorIs(t, err, ErrStorageUnpriced)

	cfg.StorageGBHourCredits = 1
	cost, err := cfg.CalculateStorageCost(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)

	cost, err = cfg.CalculateStorageCost(0.001)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cost)
}

func TestUSDConversions(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(5000), cfg.USDToCredits(50.0))
	assert.Equal(t, int64(100), cfg.USDToCredits(1.0))
	assert.InDelta(t, 50.0, cfg.CreditsToUSD(5000), 0.001)
}
