package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lance13c/vrt/internal/types"
)

// SeverityForPercentage maps a region's share of the image to a severity
func SeverityForPercentage(pct float64) string {
	switch {
	case pct >= 10:
		return types.SeverityCritical
	case pct >= 5:
		return types.SeverityMajor
	case pct >= 1:
		return types.SeverityMinor
	default:
		return types.SeverityTrivial
	}
}

// ScoreForComparison derives a 0-100 score from the mismatch, with a penalty
// when the image sizes differ
func ScoreForComparison(cmp *types.CompareResult) float64 {
	score := 100 - cmp.MismatchPercentage*5
	if cmp.SizeDiff != nil {
		score -= 10
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RuleBasedAnalyze explains a comparison from its regions without a model
func RuleBasedAnalyze(cmp *types.CompareResult) *types.AnalyzeResult {
	result := &types.AnalyzeResult{
		Differences: []types.Difference{},
		Source:      ProviderRuleBased,
	}
	if cmp == nil {
		result.Assessment = types.Assessment{Score: 0, Grade: "F", Summary: "No comparison available"}
		return result
	}

	if cmp.SizeDiff != nil {
		b, a := cmp.SizeDiff.Baseline, cmp.SizeDiff.Actual
		result.Differences = append(result.Differences, types.Difference{
			ID:          "size",
			Type:        "size",
			Location:    "page",
			Description: "Rendered size differs from the baseline",
			Severity:    types.SeverityMajor,
			Expected:    fmt.Sprintf("%dx%d", b.Width, b.Height),
			Actual:      fmt.Sprintf("%dx%d", a.Width, a.Height),
		})
	}

	for i, r := range cmp.Regions {
		pct := 0.0
		if cmp.TotalPixels > 0 {
			pct = float64(r.PixelCount) / float64(cmp.TotalPixels) * 100
		}
		result.Differences = append(result.Differences, types.Difference{
			ID:   fmt.Sprintf("region-%d", i+1),
			Type: r.Type,
			Location: fmt.Sprintf("x=%d y=%d w=%d h=%d",
				r.Bounds.X, r.Bounds.Y, r.Bounds.Width, r.Bounds.Height),
			Description: fmt.Sprintf("%s change covering %d pixels (%.2f%% of the image)", r.Type, r.PixelCount, pct),
			Severity:    SeverityForPercentage(pct),
		})
	}

	score := ScoreForComparison(cmp)
	result.Assessment = types.Assessment{
		Score:      score,
		Grade:      types.GradeForScore(score),
		Acceptable: score >= 80,
		Summary: fmt.Sprintf("%.2f%% of pixels differ across %d region(s); scored without a model",
			cmp.MismatchPercentage, len(cmp.Regions)),
	}
	return result
}

// RuleBasedFixes proposes generic fixes per difference type
func RuleBasedFixes(diffs []types.Difference) []types.FixSuggestion {
	fixes := []types.FixSuggestion{}
	for _, d := range diffs {
		var desc string
		switch d.Type {
		case "size", "layout":
			desc = "Check width, height, padding and flex/grid rules of the container at " + d.Location
		case "text":
			desc = "Check copy, font family, font size and line height at " + d.Location
		case "color":
			desc = "Check colour tokens, backgrounds and borders at " + d.Location
		default:
			desc = "Inspect the element at " + d.Location + " for content or styling changes"
		}
		fixes = append(fixes, types.FixSuggestion{
			DifferenceID: d.ID,
			Description:  desc,
			Confidence:   0.3,
		})
	}
	return fixes
}

// RuleBasedAdapter answers analysis and fix prompts locally. It never
// reports token usage.
type RuleBasedAdapter struct{}

// NewRuleBasedAdapter creates the local adapter
func NewRuleBasedAdapter() *RuleBasedAdapter { return &RuleBasedAdapter{} }

func (RuleBasedAdapter) Provider() string { return ProviderRuleBased }
func (RuleBasedAdapter) Model() string    { return ProviderRuleBased }

// ChatWithImages returns a rule-based analysis of req.Comparison as JSON
func (RuleBasedAdapter) ChatWithImages(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(RuleBasedAnalyze(req.Comparison))
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Text: string(data)}, nil
}

// Chat returns generic fixes for req.Differences as JSON
func (RuleBasedAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(fixPayload{Suggestions: toFixItems(RuleBasedFixes(req.Differences))})
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Text: string(data)}, nil
}
