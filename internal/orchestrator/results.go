package orchestrator

import (
	"fmt"
	"time"

	"github.com/lance13c/vrt/internal/types"
)

// errorResult is the result of a task whose pipeline failed at step.
// Artifacts already produced by earlier steps are kept from partial.
func errorResult(task types.TestTask, step string, err error, partial types.TestResult) types.TestResult {
	msg := err.Error()
	return types.TestResult{
		Target:             task.TargetName,
		Variant:            task.VariantName,
		Passed:             false,
		MismatchPercentage: 100,
		Screenshots:        partial.Screenshots,
		BaselineSource:     partial.BaselineSource,
		Analysis: &types.AnalyzeResult{
			Differences: []types.Difference{{
				ID:          "error",
				Type:        "other",
				Location:    step,
				Description: msg,
				Severity:    types.SeverityCritical,
			}},
			Assessment: types.Assessment{
				Score:      0,
				Grade:      "F",
				Acceptable: false,
				Summary:    fmt.Sprintf("Test failed during %s: %s", step, msg),
			},
		},
		Error: &types.ErrorRecord{Step: step, Message: msg},
	}
}

// Summary aggregates the results of a run
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration"`
}

// Summarize counts passes, mismatches and errors
func Summarize(results []types.TestResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Error != nil:
			s.Errored++
		case r.Passed:
			s.Passed++
		default:
			s.Failed++
		}
		s.Duration += r.Duration
	}
	return s
}

// OK reports whether every task passed
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}
