package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// Operations with their own endpoint settings
const (
	OpAnalyze = "analyze"
	OpSuggest = "suggest"
)

// Service applies timeouts and the fallback policy around the clients
type Service struct {
	analyzer  *Client
	suggester *Client
	fallback  *Client

	analyzeTimeout time.Duration
	suggestTimeout time.Duration
	policy         config.FallbackConfig
}

// NewService creates the analysis service for cfg. An endpoint that cannot
// be configured (missing key) falls back to the rule-based adapter when
// that is enabled.
func NewService(cfg config.LLMConfig) (*Service, error) {
	build := func(op string) (VisionAdapter, time.Duration, error) {
		ep := cfg.Endpoint(op)
		if !cfg.Enabled {
			return NewRuleBasedAdapter(), ep.Timeout, nil
		}
		adapter, err := NewAdapter(ep)
		if err != nil {
			if !cfg.Fallback.RuleBasedEnabled {
				return nil, 0, fmt.Errorf("configure %s endpoint: %w", op, err)
			}
			logging.Warn("LLM %s endpoint unavailable, using rule-based analysis: %v", op, err)
			return NewRuleBasedAdapter(), ep.Timeout, nil
		}
		return adapter, ep.Timeout, nil
	}

	analyze, analyzeTimeout, err := build(OpAnalyze)
	if err != nil {
		return nil, err
	}
	suggest, suggestTimeout, err := build(OpSuggest)
	if err != nil {
		return nil, err
	}

	s := NewServiceWithAdapters(analyze, suggest, cfg.Fallback)
	s.analyzeTimeout = analyzeTimeout
	s.suggestTimeout = suggestTimeout
	return s, nil
}

// NewServiceWithAdapters creates a service over explicit adapters
func NewServiceWithAdapters(analyze, suggest VisionAdapter, policy config.FallbackConfig) *Service {
	return &Service{
		analyzer:  NewClient(analyze),
		suggester: NewClient(suggest),
		fallback:  NewClient(NewRuleBasedAdapter()),
		policy:    policy,
	}
}

// SetTimeouts overrides the per-call deadlines; zero disables one
func (s *Service) SetTimeouts(analyze, suggest time.Duration) {
	s.analyzeTimeout = analyze
	s.suggestTimeout = suggest
}

// Model returns the model name used for an operation
func (s *Service) Model(op string) string {
	if op == OpSuggest {
		return s.suggester.Adapter().Model()
	}
	return s.analyzer.Adapter().Model()
}

// Provider returns the vendor used for an operation
func (s *Service) Provider(op string) string {
	if op == OpSuggest {
		return s.suggester.Adapter().Provider()
	}
	return s.analyzer.Adapter().Provider()
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// retryable reports whether a failed call is worth repeating. Vendor errors
// decide for themselves; transport failures and per-call timeouts retry.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Analyze runs one analysis under the fallback policy:
//   - retry retries transient failures, then falls back like skip
//   - rule-based always answers a failure with the rule-based analysis
//   - skip uses the rule-based analysis when enabled and otherwise returns the error
func (s *Service) Analyze(ctx context.Context, in AnalyzeInput) (*types.AnalyzeResult, error) {
	attempt := func() (*types.AnalyzeResult, error) {
		cctx, cancel := withOptionalTimeout(ctx, s.analyzeTimeout)
		defer cancel()
		return s.analyzer.Analyze(cctx, in)
	}

	res, err := attempt()
	if err == nil {
		return res, nil
	}

	if s.policy.Strategy == config.FallbackRetry {
		for i := 1; i <= s.policy.MaxRetries && retryable(err) && ctx.Err() == nil; i++ {
			logging.Warn("LLM analysis of %s/%s failed (attempt %d): %v", in.Target, in.Variant, i, err)
			if serr := sleep(ctx, time.Duration(i)*s.policy.RetryDelay); serr != nil {
				break
			}
			if res, err = attempt(); err == nil {
				return res, nil
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if s.policy.Strategy == config.FallbackRuleBased || s.policy.RuleBasedEnabled {
		logging.Warn("LLM analysis of %s/%s failed, using rule-based analysis: %v", in.Target, in.Variant, err)
		return s.fallback.Analyze(ctx, in)
	}
	return nil, err
}

// SuggestFixes proposes fixes for diffs. On failure it degrades to generic
// suggestions when rule-based fallback is enabled.
func (s *Service) SuggestFixes(ctx context.Context, target, variant string, diffs []types.Difference) ([]types.FixSuggestion, *types.TokenUsage, error) {
	cctx, cancel := withOptionalTimeout(ctx, s.suggestTimeout)
	defer cancel()

	fixes, usage, err := s.suggester.SuggestFixes(cctx, target, variant, diffs)
	if err == nil {
		return fixes, usage, nil
	}
	if ctx.Err() != nil || !s.policy.RuleBasedEnabled {
		return nil, nil, err
	}
	logging.Warn("fix suggestions for %s/%s failed, using generic suggestions: %v", target, variant, err)
	return RuleBasedFixes(diffs), nil, nil
}
