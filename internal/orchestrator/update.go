package orchestrator

import (
	"os"

	"github.com/lance13c/vrt/internal/baseline"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// UpdateSummary reports what UpdateBaselines did
type UpdateSummary struct {
	Updated []string `json:"updated"`
	Skipped []string `json:"skipped"`
}

// UpdateBaselines accepts the current rendering of every failed result as
// its new baseline. Results missing an actual or baseline path, or whose
// actual file is gone, are skipped.
func UpdateBaselines(results []types.TestResult) UpdateSummary {
	var summary UpdateSummary
	for _, r := range results {
		if r.Passed {
			continue
		}
		id := r.Target + "/" + r.Variant
		actual, dest := r.Screenshots.Actual, r.Screenshots.Baseline
		if actual == "" || dest == "" {
			logging.Warn("not updating %s: no screenshot paths recorded", id)
			summary.Skipped = append(summary.Skipped, id)
			continue
		}
		if _, err := os.Stat(actual); err != nil {
			logging.Warn("not updating %s: %v", id, err)
			summary.Skipped = append(summary.Skipped, id)
			continue
		}

		if err := baseline.CopyFile(actual, dest); err != nil {
			logging.Warn("not updating %s: %v", id, err)
			summary.Skipped = append(summary.Skipped, id)
			continue
		}
		if r.BaselineSource != "" && !samePath(r.BaselineSource, dest) {
			if err := baseline.CopyFile(actual, r.BaselineSource); err != nil {
				logging.Warn("updated %s but not its source %s: %v", id, r.BaselineSource, err)
			}
		}
		logging.Info("updated baseline %s", id)
		summary.Updated = append(summary.Updated, id)
	}
	return summary
}
