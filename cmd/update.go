package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/orchestrator"
	"github.com/lance13c/vrt/internal/types"
)

var updateCmd = &cobra.Command{
	Use:   "update [target...]",
	Short: "Accept the last run's failures as new baselines",
	Long: `Copy the screenshots of every failed test from the last 'vrt run' over
their baselines. Name targets to limit the update to them.`,
	RunE: runUpdateBaselines,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdateBaselines(cmd *cobra.Command, args []string) error {
	_, root, err := loadConfig()
	if err != nil {
		return err
	}

	report, err := readReport(resultsPath(root))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no results found; run 'vrt run' first")
	}
	if err != nil {
		return err
	}

	results := report.Results
	if len(args) > 0 {
		wanted := make(map[string]bool, len(args))
		for _, a := range args {
			wanted[a] = true
		}
		results = results[:0:0]
		for _, r := range report.Results {
			if wanted[r.Target] {
				results = append(results, r)
			}
		}
	}

	summary := orchestrator.UpdateBaselines(results)
	st := newStyles(isTerminal(os.Stdout))
	for _, id := range summary.Updated {
		fmt.Printf("%s %s\n", st.pass.Render("updated"), id)
	}
	for _, id := range summary.Skipped {
		fmt.Printf("%s %s\n", st.errs.Render("skipped"), id)
	}
	if len(summary.Updated) == 0 && len(summary.Skipped) == 0 {
		fmt.Println("Nothing to update: every test passed.")
	}

	// results.json now describes baselines that no longer exist
	if len(summary.Updated) > 0 {
		report.Results = markUpdated(report.Results, summary.Updated)
		report.Summary = orchestrator.Summarize(report.Results)
		if err := writeReport(resultsPath(root), report); err != nil {
			return err
		}
	}
	return nil
}

func markUpdated(results []types.TestResult, updated []string) []types.TestResult {
	done := make(map[string]bool, len(updated))
	for _, id := range updated {
		done[id] = true
	}
	out := make([]types.TestResult, len(results))
	for i, r := range results {
		if done[r.Target+"/"+r.Variant] {
			r.Passed = true
			r.MismatchPercentage = 0
			r.Analysis = nil
			r.Fixes = nil
			r.Screenshots.Diff = ""
		}
		out[i] = r
	}
	return out
}
