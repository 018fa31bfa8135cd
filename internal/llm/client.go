package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// AnalyzeInput is everything an analysis needs about one task
type AnalyzeInput struct {
	Target       string
	Variant      string
	BaselinePath string
	ActualPath   string
	DiffPath     string
	Comparison   *types.CompareResult
}

// Client turns comparisons into prompts and model answers into results
type Client struct {
	adapter VisionAdapter
}

// NewClient creates a client over adapter
func NewClient(adapter VisionAdapter) *Client {
	return &Client{adapter: adapter}
}

// Adapter returns the underlying adapter
func (c *Client) Adapter() VisionAdapter {
	return c.adapter
}

func loadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/png"
	}
	return Image{MediaType: mediaType, Data: data}, nil
}

// Analyze sends baseline, actual and (if present) diff images to the model.
// Adapter failures are returned as errors; unusable answers are not errors
// and produce a failing assessment instead.
func (c *Client) Analyze(ctx context.Context, in AnalyzeInput) (*types.AnalyzeResult, error) {
	if in.Comparison == nil {
		return nil, fmt.Errorf("analysis requires a comparison result")
	}

	req := ChatRequest{
		System:     analysisSystemPrompt,
		Comparison: in.Comparison,
	}

	if c.adapter.Provider() != ProviderRuleBased {
		schema, err := AnalysisSchemaJSON()
		if err != nil {
			return nil, err
		}
		req.Prompt = buildAnalysisPrompt(in.Target, in.Variant, in.Comparison, schema)

		for _, path := range []string{in.BaselinePath, in.ActualPath} {
			img, err := loadImage(path)
			if err != nil {
				return nil, fmt.Errorf("read image for analysis: %w", err)
			}
			req.Images = append(req.Images, img)
		}
		if in.DiffPath != "" {
			if img, err := loadImage(in.DiffPath); err == nil {
				req.Images = append(req.Images, img)
			}
		}
	}

	resp, err := c.adapter.ChatWithImages(ctx, req)
	if err != nil {
		return nil, err
	}

	result := ParseAnalysis(resp.Text)
	result.RawText = resp.Text
	result.Usage = resp.Usage
	result.Source = c.adapter.Provider()
	return result, nil
}

// SuggestFixes asks the model for fixes to the given differences
func (c *Client) SuggestFixes(ctx context.Context, target, variant string, diffs []types.Difference) ([]types.FixSuggestion, *types.TokenUsage, error) {
	req := ChatRequest{
		System:      fixSystemPrompt,
		Prompt:      buildFixPrompt(target, variant, diffs),
		Differences: diffs,
	}
	resp, err := c.adapter.Chat(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return ParseFixes(resp.Text), resp.Usage, nil
}

// jsonCandidates lists the ways a JSON object may appear in model output:
// the whole text, a fenced code block, and the span from the first '{' to
// the last '}'
func jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	candidates := []string{text}

	for _, fence := range []string{"```json", "```JSON", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidates = append(candidates, strings.TrimSpace(rest[:end]))
			break
		}
	}

	if first, last := strings.Index(text, "{"), strings.LastIndex(text, "}"); first >= 0 && last > first {
		candidates = append(candidates, text[first:last+1])
	}
	return candidates
}

// UnparseableAnalysis is the result used when a model answer cannot be used
func UnparseableAnalysis(reason string) *types.AnalyzeResult {
	return &types.AnalyzeResult{
		Differences: []types.Difference{},
		Assessment: types.Assessment{
			Score:      0,
			Grade:      "F",
			Acceptable: false,
			Summary:    "Unable to parse analysis response: " + reason,
		},
	}
}

// ParseAnalysis extracts and validates an analysis from model output
func ParseAnalysis(text string) *types.AnalyzeResult {
	lastErr := fmt.Errorf("no JSON object found")
	for _, candidate := range jsonCandidates(text) {
		if !json.Valid([]byte(candidate)) {
			continue
		}
		if err := ValidateAnalysis([]byte(candidate)); err != nil {
			lastErr = err
			continue
		}

		var payload analysisPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			lastErr = err
			continue
		}
		return payload.toResult()
	}

	logging.Warn("discarding analysis response: %v", lastErr)
	return UnparseableAnalysis(firstLine(lastErr.Error()))
}

func (p analysisPayload) toResult() *types.AnalyzeResult {
	diffs := make([]types.Difference, 0, len(p.Differences))
	for i, d := range p.Differences {
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("diff-%d", i+1)
		}
		diffs = append(diffs, types.Difference{
			ID:          id,
			Type:        d.Type,
			Location:    d.Location,
			Description: d.Description,
			Severity:    d.Severity,
			Expected:    d.Expected,
			Actual:      d.Actual,
		})
	}
	return &types.AnalyzeResult{
		Differences: diffs,
		Assessment: types.Assessment{
			Score:      p.Assessment.Score,
			Grade:      types.GradeForScore(p.Assessment.Score),
			Acceptable: p.Assessment.Acceptable,
			Summary:    p.Assessment.Summary,
		},
	}
}

// ParseFixes extracts fix suggestions; unusable output yields none
func ParseFixes(text string) []types.FixSuggestion {
	for _, candidate := range jsonCandidates(text) {
		if !json.Valid([]byte(candidate)) || ValidateFixes([]byte(candidate)) != nil {
			continue
		}
		var payload fixPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		fixes := make([]types.FixSuggestion, 0, len(payload.Suggestions))
		for _, s := range payload.Suggestions {
			fixes = append(fixes, types.FixSuggestion{
				DifferenceID: s.DifferenceID,
				Description:  s.Description,
				Code:         s.Code,
				Confidence:   s.Confidence,
			})
		}
		return fixes
	}
	logging.Warn("discarding unparseable fix suggestions")
	return []types.FixSuggestion{}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
