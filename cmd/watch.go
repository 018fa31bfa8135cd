package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/gitinfo"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/orchestrator"
	"github.com/lance13c/vrt/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [target...]",
	Short: "Re-run visual tests when files change",
	Long: `Run the suite once, then again every time a source, style, config or
baseline file under the project changes. Stop with Ctrl+C.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&runFilter, "filter", "f", "", "expression selecting tasks")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before re-running (default 500ms)")
}

var watchDebounce time.Duration

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}

	runOnce := func() {
		// each run gets fresh browsers and a fresh budget
		runCfg := *cfg
		report, err := executeRun(ctx, &runCfg, root, args, orchestrator.RunOptions{Filter: runFilter})
		if report != nil {
			printSummary(os.Stdout, report, isTerminal(os.Stdout))
		}
		if err != nil && ctx.Err() == nil {
			logging.Error("watch run failed: %v", err)
		}
	}
	runOnce()

	wcfg := watcher.DefaultConfig()
	if watchDebounce > 0 {
		wcfg.Debounce = watchDebounce
	}
	wcfg.IgnorePatterns = append(wcfg.IgnorePatterns, artifactPatterns(cfg, root)...)

	var ignorer watcher.Ignorer
	if repo, err := gitinfo.Open(root); err == nil {
		ignorer = repo
	}

	fw, err := watcher.NewFileWatcher(root, wcfg, ignorer)
	if err != nil {
		return err
	}
	fw.SetChangeCallback(func(files []string) error {
		for _, f := range files {
			if rel, err := filepath.Rel(root, f); err == nil {
				logging.Info("changed: %s", rel)
			}
		}
		if reloaded, _, err := loadConfig(); err == nil {
			cfg = reloaded
		} else {
			logging.Warn("keeping previous config: %v", err)
		}
		runOnce()
		return nil
	})

	err = fw.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// artifactPatterns keeps runs from triggering themselves
func artifactPatterns(cfg *config.Config, root string) []string {
	var patterns []string
	for _, dir := range []string{cfg.Directories.Actuals, cfg.Directories.Diffs, cfg.Directories.Cache} {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || filepath.IsAbs(rel) {
			continue
		}
		patterns = append(patterns, filepath.ToSlash(rel)+"/**")
	}
	return append(patterns, filepath.ToSlash(filepath.Join(config.ConfigDirName, ResultsFileName)))
}
