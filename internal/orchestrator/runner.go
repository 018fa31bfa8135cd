package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lance13c/vrt/internal/baseline"
	"github.com/lance13c/vrt/internal/browser"
	"github.com/lance13c/vrt/internal/compare"
	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/cost"
	"github.com/lance13c/vrt/internal/llm"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// ErrRunnerClosed is returned by RunTests after cleanup has run
var ErrRunnerClosed = errors.New("runner is closed")

// Screenshotter captures the live rendering of a task
type Screenshotter interface {
	Capture(ctx context.Context, opts browser.CaptureOptions) (string, error)
	Close() error
}

// BaselineFetcher resolves baseline images
type BaselineFetcher interface {
	Fetch(ctx context.Context, opts baseline.FetchOptions) (*types.BaselineResult, error)
	LocalSourcePath(source types.BaselineSource) string
	Dispose() error
}

// Comparer diffs two images
type Comparer interface {
	Compare(opts compare.Options) (*types.CompareResult, error)
}

// Analyzer explains mismatches and proposes fixes
type Analyzer interface {
	Analyze(ctx context.Context, in llm.AnalyzeInput) (*types.AnalyzeResult, error)
	SuggestFixes(ctx context.Context, target, variant string, diffs []types.Difference) ([]types.FixSuggestion, *types.TokenUsage, error)
	Provider(op string) string
	Model(op string) string
}

// Deps are the collaborators a Runner drives. Analyzer may be nil, which
// disables analysis. Cleanup functions run once when the runner closes.
type Deps struct {
	Screenshots Screenshotter
	Baselines   BaselineFetcher
	Comparer    Comparer
	Analyzer    Analyzer
	Cost        *cost.Controller
	Cleanup     []func() error
}

// RunOptions tune a single run
type RunOptions struct {
	// Update writes missing baselines from the captured screenshot
	Update bool
	// Filter is an expression selecting a subset of the expanded tasks
	Filter string
	// Concurrency overrides concurrency.max_concurrent when positive
	Concurrency int
	// Timeout overrides concurrency.task_timeout when positive
	Timeout time.Duration
}

// Runner executes test tasks
type Runner struct {
	cfg  *config.Config
	deps Deps

	mu     sync.Mutex
	closed bool

	cleanupOnce sync.Once
	cleanupErr  error
}

// NewRunner creates a runner. Relative artifact directories are taken as
// given; callers resolve them against the project root.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Comparer == nil {
		deps.Comparer = compare.NewEngine()
	}
	if deps.Cost == nil {
		deps.Cost = cost.NewController(cfg.LLM.CostControl, nil, nil)
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Cost returns the run's cost controller
func (r *Runner) Cost() *cost.Controller {
	return r.deps.Cost
}

// Tasks expands and filters the tasks a run would execute
func (r *Runner) Tasks(targetNames []string, filter string) ([]types.TestTask, error) {
	tasks, err := ExpandTasks(r.cfg, targetNames)
	if err != nil {
		return nil, err
	}
	return FilterTasks(tasks, filter)
}

// RunTests runs every selected task and returns one result per task in task
// order. Task failures become error results; the returned error is set only
// when the run could not start or ctx was cancelled. Resources are released
// when the run ends.
func (r *Runner) RunTests(ctx context.Context, targetNames []string, opts RunOptions) ([]types.TestResult, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRunnerClosed
	}
	defer func() {
		if err := r.Close(); err != nil {
			logging.Warn("cleanup after run: %v", err)
		}
	}()

	tasks, err := r.Tasks(targetNames, opts.Filter)
	if err != nil {
		return nil, err
	}

	limit := r.cfg.Concurrency.MaxConcurrent
	if opts.Concurrency > 0 {
		limit = opts.Concurrency
	}
	if limit < 1 {
		limit = 1
	}
	timeout := r.cfg.Concurrency.TaskTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	r.deps.Cost.Reset()
	logging.Info("running %d task(s), concurrency %d, task timeout %v", len(tasks), limit, timeout)

	results := make([]types.TestResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logging.Error("task %s panicked: %v\n%s", task.ID(), p, debug.Stack())
					results[i] = errorResult(task, types.StepUnknown, fmt.Errorf("panic: %v", p), types.TestResult{})
				}
			}()
			results[i] = r.runTask(ctx, task, opts, timeout)
			return nil
		})
	}
	_ = g.Wait()

	stats := r.deps.Cost.Stats()
	logging.Info("run finished: %d task(s), %d LLM call(s), %s", len(results), stats.CallCount, cost.FormatCost(stats.EstimatedCost))
	return results, ctx.Err()
}

// Close releases the browser engine, baseline providers and registered
// cleanups. It is safe to call more than once and concurrently with the end
// of a run.
func (r *Runner) Close() error {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		var errs []error
		guard := func(name string, fn func() error) {
			defer func() {
				if p := recover(); p != nil {
					errs = append(errs, fmt.Errorf("%s: panic: %v", name, p))
				}
			}()
			if err := fn(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}

		if r.deps.Screenshots != nil {
			guard("close screenshot engine", r.deps.Screenshots.Close)
		}
		if r.deps.Baselines != nil {
			guard("dispose baseline providers", r.deps.Baselines.Dispose)
		}
		for i, fn := range r.deps.Cleanup {
			guard(fmt.Sprintf("cleanup %d", i+1), fn)
		}
		r.cleanupErr = errors.Join(errs...)
	})
	return r.cleanupErr
}

type artifactPaths struct {
	baseline string
	actual   string
	diff     string
}

func (r *Runner) pathsFor(task types.TestTask) artifactPaths {
	dirs := r.cfg.Directories
	return artifactPaths{
		baseline: filepath.Join(dirs.Baselines, task.TargetName, task.VariantName+".png"),
		actual:   filepath.Join(dirs.Actuals, task.TargetName, task.VariantName+".png"),
		diff:     filepath.Join(dirs.Diffs, task.TargetName, task.VariantName+"-diff.png"),
	}
}

func (r *Runner) runTask(ctx context.Context, task types.TestTask, opts RunOptions, timeout time.Duration) types.TestResult {
	start := time.Now()
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	step, res, err := r.execute(tctx, task, opts)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logging.Error("task %s timed out after %v during %s", task.ID(), timeout, step)
			err = fmt.Errorf("timed out after %v during %s: %w", timeout, step, err)
		} else {
			logging.Error("task %s failed during %s: %v", task.ID(), step, err)
		}
		res = errorResult(task, step, err, res)
	}
	res.Duration = time.Since(start)
	return res
}

// execute runs the steps of one task in order. On failure it returns the
// step that failed along with whatever artifacts were already produced.
func (r *Runner) execute(ctx context.Context, task types.TestTask, opts RunOptions) (string, types.TestResult, error) {
	paths := r.pathsFor(task)

	if err := ctx.Err(); err != nil {
		return types.StepBaseline, types.TestResult{}, err
	}
	base, err := r.deps.Baselines.Fetch(ctx, baseline.FetchOptions{
		Source:     task.Baseline,
		OutputPath: paths.baseline,
		Viewport:   task.Viewport,
	})
	if err != nil {
		if errors.Is(err, baseline.ErrNotFound) {
			if opts.Update {
				return r.firstRun(ctx, task, paths)
			}
			return types.StepBaseline, types.TestResult{}, fmt.Errorf("%w (run with --update to create it)", err)
		}
		return types.StepBaseline, types.TestResult{}, err
	}

	partial := types.TestResult{
		Screenshots:    types.Screenshots{Baseline: base.Path},
		BaselineSource: r.deps.Baselines.LocalSourcePath(task.Baseline),
	}
	if err := ctx.Err(); err != nil {
		return types.StepScreenshot, partial, err
	}
	actual, err := r.capture(ctx, task, paths.actual)
	if err != nil {
		return types.StepScreenshot, partial, err
	}
	partial.Screenshots.Actual = actual

	if err := ctx.Err(); err != nil {
		return types.StepComparison, partial, err
	}
	threshold := r.cfg.Comparison.Threshold
	if task.Threshold != nil {
		threshold = *task.Threshold
	}
	cmp, err := r.deps.Comparer.Compare(compare.Options{
		BaselinePath:   base.Path,
		ActualPath:     actual,
		DiffPath:       paths.diff,
		Threshold:      threshold,
		ColorThreshold: r.cfg.Comparison.ColorThreshold,
		Antialiasing:   r.cfg.Comparison.Antialiasing,
	})
	if err != nil {
		return types.StepComparison, partial, err
	}

	res := types.TestResult{
		Target:             task.TargetName,
		Variant:            task.VariantName,
		Passed:             cmp.Match,
		MismatchPercentage: cmp.MismatchPercentage,
		Screenshots:        types.Screenshots{Baseline: base.Path, Actual: actual, Diff: cmp.DiffPath},
		Comparison:         cmp,
		BaselineSource:     partial.BaselineSource,
	}
	if cmp.Match {
		logging.Info("task %s passed (%.3f%% mismatch)", task.ID(), cmp.MismatchPercentage)
		return "", res, nil
	}
	logging.Info("task %s mismatched (%.3f%%, %d region(s))", task.ID(), cmp.MismatchPercentage, len(cmp.Regions))

	if err := ctx.Err(); err != nil {
		return types.StepAnalysis, res, err
	}
	analysis, err := r.analyze(ctx, task, cmp, base.Path, actual)
	if err != nil {
		return types.StepAnalysis, res, err
	}
	res.Analysis = analysis
	if analysis != nil {
		res.Fixes = r.suggestFixes(ctx, task, analysis)
	}
	return "", res, nil
}

func (r *Runner) capture(ctx context.Context, task types.TestTask, output string) (string, error) {
	return r.deps.Screenshots.Capture(ctx, browser.CaptureOptions{
		URL:          task.URL,
		OutputPath:   output,
		Selector:     task.Selector,
		WaitSelector: task.WaitSelector,
		Viewport:     task.Viewport,
		Browser:      task.Browser,
	})
}

// firstRun creates a missing baseline from the current rendering
func (r *Runner) firstRun(ctx context.Context, task types.TestTask, paths artifactPaths) (string, types.TestResult, error) {
	logging.Info("baseline for %s missing, creating it from the current rendering", task.ID())

	actual, err := r.capture(ctx, task, paths.actual)
	if err != nil {
		return types.StepScreenshot, types.TestResult{}, err
	}
	partial := types.TestResult{Screenshots: types.Screenshots{Actual: actual}}
	if err := baseline.CopyFile(actual, paths.baseline); err != nil {
		return types.StepBaseline, partial, fmt.Errorf("write baseline: %w", err)
	}

	source := r.deps.Baselines.LocalSourcePath(task.Baseline)
	if source != "" && !samePath(source, paths.baseline) {
		if err := baseline.CopyFile(actual, source); err != nil {
			return types.StepBaseline, partial, fmt.Errorf("write baseline source: %w", err)
		}
	}

	return "", types.TestResult{
		Target:         task.TargetName,
		Variant:        task.VariantName,
		Passed:         true,
		Screenshots:    types.Screenshots{Baseline: paths.baseline, Actual: actual},
		BaselineSource: source,
	}, nil
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}

// analyze asks the analyzer about a mismatch within the cost budget. A nil
// result with a nil error means no analysis was made.
func (r *Runner) analyze(ctx context.Context, task types.TestTask, cmp *types.CompareResult, baselinePath, actualPath string) (*types.AnalyzeResult, error) {
	ctrl := r.deps.Cost
	if r.deps.Analyzer == nil || !ctrl.ShouldAnalyze(cmp) {
		return nil, nil
	}

	key := ctrl.CacheKey(baselinePath, actualPath)
	if cached, ok := ctrl.CachedAnalysis(key); ok {
		ctrl.ReleaseCall()
		logging.Debug("using cached analysis for %s", task.ID())
		return cached, nil
	}

	res, err := r.deps.Analyzer.Analyze(ctx, llm.AnalyzeInput{
		Target:       task.TargetName,
		Variant:      task.VariantName,
		BaselinePath: baselinePath,
		ActualPath:   actualPath,
		DiffPath:     cmp.DiffPath,
		Comparison:   cmp,
	})
	if err != nil {
		ctrl.ReleaseCall()
		return nil, err
	}

	if res.Usage != nil {
		ctrl.RecordCall(res.Source, r.deps.Analyzer.Model(llm.OpAnalyze), res.Usage)
	} else {
		ctrl.ReleaseCall()
	}
	if res.Source != llm.ProviderRuleBased {
		ctrl.CacheAnalysis(key, res)
	}
	return res, nil
}

// suggestFixes is best effort; failures leave the result without fixes
func (r *Runner) suggestFixes(ctx context.Context, task types.TestTask, analysis *types.AnalyzeResult) []types.FixSuggestion {
	ctrl := r.deps.Cost
	if !r.cfg.LLM.SuggestFixes || len(analysis.Differences) == 0 || ctx.Err() != nil {
		return nil
	}
	if !ctrl.ShouldCall() {
		return nil
	}

	fixes, usage, err := r.deps.Analyzer.SuggestFixes(ctx, task.TargetName, task.VariantName, analysis.Differences)
	if usage != nil {
		ctrl.Record(cost.OpSuggest, r.deps.Analyzer.Provider(llm.OpSuggest), r.deps.Analyzer.Model(llm.OpSuggest), usage)
	} else {
		ctrl.ReleaseCall()
	}
	if err != nil {
		logging.Warn("fix suggestions for %s failed: %v", task.ID(), err)
		return nil
	}
	return fixes
}
