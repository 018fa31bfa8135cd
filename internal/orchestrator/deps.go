package orchestrator

import (
	"path/filepath"
	"time"

	"github.com/lance13c/vrt/internal/baseline"
	"github.com/lance13c/vrt/internal/browser"
	"github.com/lance13c/vrt/internal/compare"
	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/cost"
	"github.com/lance13c/vrt/internal/database"
	"github.com/lance13c/vrt/internal/llm"
	"github.com/lance13c/vrt/internal/logging"
)

// ResolvePaths makes artifact directories and the local baseline directory
// absolute under root
func ResolvePaths(cfg *config.Config, root string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	cfg.Directories.Baselines = abs(cfg.Directories.Baselines)
	cfg.Directories.Actuals = abs(cfg.Directories.Actuals)
	cfg.Directories.Diffs = abs(cfg.Directories.Diffs)
	cfg.Directories.Cache = abs(cfg.Directories.Cache)
	cfg.Baseline.Local.BaseDir = abs(cfg.Baseline.Local.BaseDir)
}

// OpenDatabase opens the usage ledger and analysis cache store
func OpenDatabase(cfg *config.Config) (*database.DB, error) {
	return database.New(filepath.Join(cfg.Directories.Cache, database.FileName))
}

// BuildDeps wires the production collaborators for cfg. A database that
// cannot be opened disables persistence and the ledger but not the run.
func BuildDeps(cfg *config.Config) (Deps, error) {
	service, err := llm.NewService(cfg.LLM)
	if err != nil {
		return Deps{}, err
	}

	launcher := browser.NewChromeLauncher(cfg.Screenshot.Headless)
	for engine, o := range cfg.Screenshot.BrowserOverrides {
		if o.ExecPath != "" {
			launcher.ExecPaths[engine] = o.ExecPath
		}
		launcher.ExtraArgs[engine] = o.ExtraArgs
	}

	deps := Deps{
		Screenshots: browser.NewEngine(cfg.Screenshot, launcher),
		Baselines:   baseline.NewRouter(cfg.Baseline),
		Comparer:    compare.NewEngine(),
		Analyzer:    service,
	}

	cc := cfg.LLM.CostControl
	var store cost.CacheStore
	var recorder cost.CallRecorder
	db, err := OpenDatabase(cfg)
	if err != nil {
		logging.Warn("usage database unavailable: %v", err)
	} else {
		recorder = db
		if cc.CachePersist {
			store = db
			if cc.CacheTTL > 0 {
				if n, err := db.PruneAnalyses(time.Now().Add(-cc.CacheTTL)); err == nil && n > 0 {
					logging.Debug("pruned %d expired analyses", n)
				}
			}
		}
		deps.Cleanup = append(deps.Cleanup, db.Close)
	}

	deps.Cost = cost.NewController(cc, cost.NewCache(cc.CacheTTL, store), recorder)
	return deps, nil
}
