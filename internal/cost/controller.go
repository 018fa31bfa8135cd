package cost

import (
	"sync"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/database"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// Ledger operations
const (
	OpAnalyze = "analyze"
	OpSuggest = "suggest"
)

// CallRecorder persists billed calls
type CallRecorder interface {
	RecordLLMCall(call database.LLMCall) (int64, error)
}

// Controller gates LLM calls on a per-run call and spend budget.
// ShouldAnalyze and ShouldCall reserve a slot by counting the call up front;
// the slot is then settled by Record or handed back by ReleaseCall, so
// concurrent tasks never overshoot the call limit.
type Controller struct {
	cfg      config.CostControlConfig
	calc     *Calculator
	cache    *Cache
	recorder CallRecorder

	mu    sync.Mutex
	stats types.CostStats
	// billed counts reserved calls that were settled by Record
	billed int
}

// NewController creates a controller. cache and recorder may be nil.
func NewController(cfg config.CostControlConfig, cache *Cache, recorder CallRecorder) *Controller {
	return &Controller{
		cfg:      cfg,
		calc:     NewCalculator(),
		cache:    cache,
		recorder: recorder,
	}
}

// budgetExceeded reports whether spend has reached the limit. Caller holds c.mu.
func (c *Controller) budgetExceeded() bool {
	return c.cfg.MaxCostUSD > 0 && c.stats.EstimatedCost >= c.cfg.MaxCostUSD
}

// remaining returns free call slots, or -1 when calls are unlimited. Caller holds c.mu.
func (c *Controller) remaining() int {
	if c.cfg.MaxCallsPerRun <= 0 {
		return -1
	}
	n := c.cfg.MaxCallsPerRun - c.stats.CallCount
	if n < 0 {
		return 0
	}
	return n
}

// reserve counts one call if the budget allows it. Caller holds c.mu.
func (c *Controller) reserve() bool {
	if c.budgetExceeded() {
		logging.Info("skipping LLM call: cost budget of $%.2f reached", c.cfg.MaxCostUSD)
		return false
	}
	if c.remaining() == 0 {
		logging.Info("skipping LLM call: %d LLM calls already used", c.cfg.MaxCallsPerRun)
		return false
	}
	c.stats.CallCount++
	return true
}

// ShouldAnalyze decides whether a comparison is worth an analysis and, if
// so, reserves the call. Callers that end up not calling must ReleaseCall.
func (c *Controller) ShouldAnalyze(cmp *types.CompareResult) bool {
	if cmp == nil || cmp.Match {
		return false
	}
	if cmp.MismatchPercentage < c.cfg.DiffThreshold {
		logging.Debug("skipping analysis: %.3f%% is below the %.3f%% diff threshold", cmp.MismatchPercentage, c.cfg.DiffThreshold)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserve()
}

// ShouldCall reserves a call slot, returning false when none is left
func (c *Controller) ShouldCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserve()
}

// ReleaseCall returns a reserved slot that was not used. Calls already
// settled by Record are never given back.
func (c *Controller) ReleaseCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats.CallCount > c.billed {
		c.stats.CallCount--
	}
}

// RecordCall settles a reservation for an analysis call with its usage
func (c *Controller) RecordCall(provider, model string, usage *types.TokenUsage) {
	c.Record(OpAnalyze, provider, model, usage)
}

// Record settles a reservation for the given operation and adds its
// tokens and cost. A call recorded without a reservation is counted here.
func (c *Controller) Record(op, provider, model string, usage *types.TokenUsage) {
	var prompt, completion int64
	if usage != nil {
		prompt, completion = usage.PromptTokens, usage.CompletionTokens
	}
	spent := c.calc.Cost(provider, model, prompt, completion)

	c.mu.Lock()
	if c.stats.CallCount == c.billed {
		c.stats.CallCount++
	}
	c.billed++
	c.stats.PromptTokens += prompt
	c.stats.CompletionTokens += completion
	c.stats.TotalTokens += prompt + completion
	c.stats.EstimatedCost += spent
	c.stats.AverageCost = c.stats.EstimatedCost / float64(c.billed)
	c.mu.Unlock()

	logging.Info("LLM %s call via %s/%s: %s tokens, %s", op, provider, model,
		FormatTokens(prompt+completion), FormatCost(spent))

	if c.recorder != nil {
		_, err := c.recorder.RecordLLMCall(database.LLMCall{
			Operation:        op,
			Provider:         provider,
			Model:            model,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			Cost:             spent,
		})
		if err != nil {
			logging.Warn("failed to record LLM call: %v", err)
		}
	}
}

// Stats returns a snapshot of the run's counters
func (c *Controller) Stats() types.CostStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RemainingCalls returns free call slots, or -1 when unlimited
func (c *Controller) RemainingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining()
}

// Reserved returns the number of reservations not yet settled or released
func (c *Controller) Reserved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.CallCount - c.billed
}

// Reset clears counters and reservations at the start of a run
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = types.CostStats{}
	c.billed = 0
}

// CacheKey identifies an image pair for the analysis cache
func (c *Controller) CacheKey(baselinePath, actualPath string) string {
	return Key(baselinePath, actualPath)
}

// CachedAnalysis returns a cached analysis for key
func (c *Controller) CachedAnalysis(key string) (*types.AnalyzeResult, bool) {
	if c.cache == nil || !c.cfg.CacheEnabled {
		return nil, false
	}
	return c.cache.Get(key)
}

// CacheAnalysis stores an analysis under key
func (c *Controller) CacheAnalysis(key string, result *types.AnalyzeResult) {
	if c.cache == nil || !c.cfg.CacheEnabled || result == nil {
		return
	}
	c.cache.Put(key, result)
}
