package types

import "time"

// Pipeline steps used in error records
const (
	StepBaseline   = "baseline"
	StepScreenshot = "screenshot"
	StepComparison = "comparison"
	StepAnalysis   = "analysis"
	StepUnknown    = "unknown"
)

// Severity levels for detected differences
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
	SeverityTrivial  = "trivial"
)

// BaselineMetadata describes a fetched baseline image
type BaselineMetadata struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`

	// Design-tool provenance
	FileKey string `json:"file_key,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
	Version string `json:"version,omitempty"`
}

// BaselineResult is the output of a baseline provider
type BaselineResult struct {
	Path     string            `json:"path"`
	Metadata *BaselineMetadata `json:"metadata,omitempty"`
}

// Dimensions is a width/height pair
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SizeDiff records that the compared images had different dimensions
type SizeDiff struct {
	Baseline Dimensions `json:"baseline"`
	Actual   Dimensions `json:"actual"`
}

// Rect is a pixel bounding box
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DiffRegion is a coarse area of differing pixels
type DiffRegion struct {
	Bounds     Rect   `json:"bounds"`
	PixelCount int    `json:"pixel_count"`
	Type       string `json:"type"`
}

// CompareResult is the output of the comparison engine
type CompareResult struct {
	Match              bool         `json:"match"`
	MismatchPercentage float64      `json:"mismatch_percentage"`
	MismatchPixels     int          `json:"mismatch_pixels"`
	TotalPixels        int          `json:"total_pixels"`
	DiffPath           string       `json:"diff_path,omitempty"`
	SizeDiff           *SizeDiff    `json:"size_diff,omitempty"`
	Regions            []DiffRegion `json:"regions"`
}

// Difference is a single visual difference reported by an analyzer
type Difference struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
}

// Assessment is the overall verdict of an analysis
type Assessment struct {
	Score      float64 `json:"score"`
	Grade      string  `json:"grade"`
	Acceptable bool    `json:"acceptable"`
	Summary    string  `json:"summary"`
}

// TokenUsage is the token accounting returned by a vendor call
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// AnalyzeResult is the output of an LLM or rule-based analysis
type AnalyzeResult struct {
	Differences []Difference `json:"differences"`
	Assessment  Assessment   `json:"assessment"`
	RawText     string       `json:"raw_text,omitempty"`
	Usage       *TokenUsage  `json:"usage,omitempty"`
	Source      string       `json:"source,omitempty"`
}

// FixSuggestion is a proposed change for a difference
type FixSuggestion struct {
	DifferenceID string  `json:"difference_id,omitempty"`
	Description  string  `json:"description"`
	Code         string  `json:"code,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// CostStats are the running LLM cost counters of one run
type CostStats struct {
	CallCount        int     `json:"call_count"`
	TotalTokens      int64   `json:"total_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	AverageCost      float64 `json:"average_cost_per_call"`
}

// Screenshots holds the artifact paths of a task
type Screenshots struct {
	Baseline string `json:"baseline,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

// ErrorRecord is attached to results whose pipeline failed
type ErrorRecord struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// TestResult is the final, reporter-facing outcome of one task
type TestResult struct {
	Target             string          `json:"target"`
	Variant            string          `json:"variant"`
	Passed             bool            `json:"passed"`
	MismatchPercentage float64         `json:"mismatch_percentage"`
	Screenshots        Screenshots     `json:"screenshots"`
	Comparison         *CompareResult  `json:"comparison,omitempty"`
	Analysis           *AnalyzeResult  `json:"analysis,omitempty"`
	Fixes              []FixSuggestion `json:"fixes,omitempty"`
	Error              *ErrorRecord    `json:"error,omitempty"`
	Duration           time.Duration   `json:"duration"`

	// BaselineSource is the resolved local source file, when there is one
	BaselineSource string `json:"baseline_source,omitempty"`
}

// GradeForScore maps a 0-100 score to a letter grade
func GradeForScore(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
