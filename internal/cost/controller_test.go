package cost_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/cost"
	"github.com/lance13c/vrt/internal/database"
	"github.com/lance13c/vrt/internal/types"
)

func controlConfig(maxCalls int) config.CostControlConfig {
	return config.CostControlConfig{MaxCallsPerRun: maxCalls, DiffThreshold: 0.5, CacheEnabled: true}
}

func TestShouldAnalyze(t *testing.T) {
	c := cost.NewController(controlConfig(2), nil, nil)

	assert.False(t, c.ShouldAnalyze(nil))
	assert.False(t, c.ShouldAnalyze(&types.CompareResult{Match: true}))
	assert.False(t, c.ShouldAnalyze(&types.CompareResult{MismatchPercentage: 0.1}), "below diff threshold")
	assert.Zero(t, c.Stats().CallCount, "rejected comparisons reserve nothing")
	assert.True(t, c.ShouldAnalyze(&types.CompareResult{MismatchPercentage: 3}))
	assert.Equal(t, 1, c.Stats().CallCount)

	require.True(t, c.ShouldCall())
	assert.False(t, c.ShouldAnalyze(&types.CompareResult{MismatchPercentage: 3}), "calls exhausted")
}

func TestReservationCountsCalls(t *testing.T) {
	const limit = 3
	mismatch := &types.CompareResult{MismatchPercentage: 10}

	tests := []struct {
		name    string
		reserve func(c *cost.Controller) bool
	}{
		{"ShouldCall", func(c *cost.Controller) bool { return c.ShouldCall() }},
		{"ShouldAnalyze", func(c *cost.Controller) bool { return c.ShouldAnalyze(mismatch) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cost.NewController(controlConfig(limit), nil, nil)
			for i := 1; i <= limit; i++ {
				require.True(t, tt.reserve(c))
				assert.Equal(t, i, c.Stats().CallCount)
			}
			assert.False(t, tt.reserve(c))
			assert.Equal(t, limit, c.Stats().CallCount)

			// settling keeps the count, releasing gives the slot back
			c.RecordCall("openai", "gpt-4o", &types.TokenUsage{PromptTokens: 10})
			assert.Equal(t, limit, c.Stats().CallCount)
			c.ReleaseCall()
			assert.Equal(t, limit-1, c.Stats().CallCount)
			assert.True(t, tt.reserve(c))
		})
	}
}

func TestReleaseNeverUndoesRecordedCalls(t *testing.T) {
	c := cost.NewController(controlConfig(2), nil, nil)

	require.True(t, c.ShouldCall())
	c.RecordCall("openai", "gpt-4o", &types.TokenUsage{PromptTokens: 10})
	c.ReleaseCall()
	c.ReleaseCall()

	assert.Equal(t, 1, c.Stats().CallCount)
	assert.Equal(t, 1, c.RemainingCalls())
}

func TestBudgetStopsCalls(t *testing.T) {
	cfg := controlConfig(0)
	cfg.MaxCostUSD = 0.01
	c := cost.NewController(cfg, nil, nil)

	require.True(t, c.ShouldCall())
	// 1M prompt tokens on gpt-4o-mini cost $0.15
	c.RecordCall("openai", "gpt-4o-mini", &types.TokenUsage{PromptTokens: 1_000_000})

	assert.False(t, c.ShouldCall())
	assert.False(t, c.ShouldAnalyze(&types.CompareResult{MismatchPercentage: 50}))
	assert.Equal(t, -1, c.RemainingCalls())
}

func TestRecordCallAccounting(t *testing.T) {
	c := cost.NewController(controlConfig(5), nil, nil)

	require.True(t, c.ShouldCall())
	c.RecordCall("anthropic", "claude-3-5-sonnet-20241022", &types.TokenUsage{PromptTokens: 1000, CompletionTokens: 500})
	require.True(t, c.ShouldCall())
	c.RecordCall("rule-based", "rule-based", nil)

	stats := c.Stats()
	assert.Equal(t, 2, stats.CallCount)
	assert.EqualValues(t, 1000, stats.PromptTokens)
	assert.EqualValues(t, 1500, stats.TotalTokens)
	assert.InDelta(t, 0.0105, stats.EstimatedCost, 1e-9)
	assert.InDelta(t, 0.00525, stats.AverageCost, 1e-9)
	assert.Equal(t, 3, c.RemainingCalls())
	assert.Zero(t, c.Reserved())

	c.Reset()
	assert.Equal(t, types.CostStats{}, c.Stats())
	assert.Equal(t, 5, c.RemainingCalls())
}

func TestReleaseSymmetry(t *testing.T) {
	c := cost.NewController(controlConfig(3), nil, nil)
	before := c.RemainingCalls()

	require.True(t, c.ShouldCall())
	assert.Equal(t, before-1, c.RemainingCalls())
	c.ReleaseCall()
	assert.Equal(t, before, c.RemainingCalls())

	// extra releases floor at zero
	c.ReleaseCall()
	c.ReleaseCall()
	assert.Zero(t, c.Reserved())
	assert.Equal(t, before, c.RemainingCalls())
}

func TestConcurrentReservations(t *testing.T) {
	c := cost.NewController(controlConfig(10), nil, nil)

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ShouldCall() {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, granted)
	assert.Zero(t, c.RemainingCalls())
}

func TestReservationInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("counted calls never exceed the limit", prop.ForAll(
		func(limit int, ops []int) bool {
			c := cost.NewController(controlConfig(limit), nil, nil)
			for _, op := range ops {
				switch op {
				case 0:
					c.ShouldCall()
				case 1:
					c.ReleaseCall()
				case 2:
					if c.Reserved() > 0 {
						c.RecordCall("openai", "gpt-4o", &types.TokenUsage{PromptTokens: 10})
					}
				}
				if c.Reserved() < 0 || c.Stats().CallCount > limit {
					return false
				}
				if c.RemainingCalls() != limit-c.Stats().CallCount {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

type ledger struct {
	mu    sync.Mutex
	calls []database.LLMCall
}

func (l *ledger) RecordLLMCall(call database.LLMCall) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	return int64(len(l.calls)), nil
}

func TestRecordWritesLedger(t *testing.T) {
	l := &ledger{}
	c := cost.NewController(controlConfig(5), nil, l)

	require.True(t, c.ShouldCall())
	c.Record(cost.OpSuggest, "openai", "gpt-4o", &types.TokenUsage{PromptTokens: 100, CompletionTokens: 10})

	require.Len(t, l.calls, 1)
	assert.Equal(t, cost.OpSuggest, l.calls[0].Operation)
	assert.EqualValues(t, 100, l.calls[0].PromptTokens)
	assert.Greater(t, l.calls[0].Cost, 0.0)
}

func TestPricing(t *testing.T) {
	calc := cost.NewCalculator()

	assert.Equal(t, 0.15, calc.Pricing("openai", "gpt-4o-mini-2024-07-18").InputCost)
	assert.Equal(t, 2.50, calc.Pricing("openai", "gpt-4o-2024-08-06").InputCost)
	assert.Equal(t, 2.50, calc.Pricing("openai", "gpt-99").InputCost)
	assert.Equal(t, 3.00, calc.Pricing("anthropic", "claude-3-5-sonnet-latest").InputCost)
	assert.Zero(t, calc.Cost("rule-based", "rule-based", 1_000_000, 1_000_000))
	assert.Equal(t, 15.00, calc.Pricing("mystery", "model").InputCost)

	assert.Equal(t, "$0.0005", cost.FormatCost(0.0005))
	assert.Equal(t, "$1.50", cost.FormatCost(1.5))
	assert.Equal(t, "1.5K", cost.FormatTokens(1500))
}
