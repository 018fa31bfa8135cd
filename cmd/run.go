package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/gitinfo"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run [target...]",
	Short: "Run visual regression tests",
	Long: `Capture every configured target (or only the named ones), compare the
screenshots with their baselines and report the differences.

Missing baselines fail the run unless --update is given, in which case they
are created from the current rendering.`,
	Example: `  vrt run
  vrt run button card --update
  vrt run --filter 'viewport == "mobile" && target != "legacy"'`,
	RunE: runTests,
}

var (
	runUpdate      bool
	runFilter      string
	runConcurrency int
	runTimeout     time.Duration
	runJSON        bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVarP(&runUpdate, "update", "u", false, "create missing baselines from the current rendering")
	runCmd.Flags().StringVarP(&runFilter, "filter", "f", "", "expression selecting tasks (target, type, variant, viewport, browser, url)")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "maximum parallel tasks (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-task timeout (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the report as JSON")
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}

	report, err := executeRun(cmd.Context(), cfg, root, args, orchestrator.RunOptions{
		Update:      runUpdate,
		Filter:      runFilter,
		Concurrency: runConcurrency,
		Timeout:     runTimeout,
	})
	if report == nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, report, isTerminal(os.Stdout))
	}

	if err != nil {
		return err
	}
	if !report.Summary.OK() {
		return errTestsFailed
	}
	return nil
}

// executeRun runs one suite with fresh collaborators and writes results.json.
// A non-nil report comes back even when the run was interrupted.
func executeRun(ctx context.Context, cfg *config.Config, root string, targets []string, opts orchestrator.RunOptions) (*Report, error) {
	deps, err := orchestrator.BuildDeps(cfg)
	if err != nil {
		return nil, err
	}
	runner := orchestrator.NewRunner(cfg, deps)
	defer runner.Close()

	if isTerminal(os.Stderr) && !runJSON {
		if tasks, err := runner.Tasks(targets, opts.Filter); err == nil {
			fmt.Fprintf(os.Stderr, "Running %d visual test(s)...\n", len(tasks))
		}
	}

	report := &Report{StartedAt: time.Now(), Git: gitinfo.Describe(root)}
	results, runErr := runner.RunTests(ctx, targets, opts)
	if results == nil && runErr != nil {
		return nil, runErr
	}

	report.Results = results
	report.Summary = orchestrator.Summarize(results)
	report.Cost = runner.Cost().Stats()

	if err := writeReport(resultsPath(root), report); err != nil {
		logging.Warn("could not write %s: %v", resultsPath(root), err)
	}
	if runErr != nil {
		return report, fmt.Errorf("%w: %v", errInterrupted, runErr)
	}
	return report, nil
}
