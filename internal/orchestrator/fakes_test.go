package orchestrator_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/baseline"
	"github.com/lance13c/vrt/internal/browser"
	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/llm"
	"github.com/lance13c/vrt/internal/types"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

// writeImage writes a 40x40 image of bg with an optional 10x10 block of fg
func writeImage(path string, bg color.NRGBA, block *color.NRGBA) error {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			c := bg
			if block != nil && x < 10 && y < 10 {
				c = *block
			}
			img.SetNRGBA(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// fakeScreens renders every URL as a white image unless told otherwise
type fakeScreens struct {
	mu      sync.Mutex
	blocks  map[string]*color.NRGBA
	errs    map[string]error
	panics  map[string]bool
	block   map[string]bool
	calls   []browser.CaptureOptions
	closed  atomic.Int32
}

func newFakeScreens() *fakeScreens {
	return &fakeScreens{
		blocks: make(map[string]*color.NRGBA),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
		block:  make(map[string]bool),
	}
}

func (f *fakeScreens) Capture(ctx context.Context, opts browser.CaptureOptions) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	err, blk, panics, hang := f.errs[opts.URL], f.blocks[opts.URL], f.panics[opts.URL], f.block[opts.URL]
	f.mu.Unlock()

	if panics {
		panic("renderer exploded")
	}
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return opts.OutputPath, writeImage(opts.OutputPath, white, blk)
}

func (f *fakeScreens) Close() error {
	f.closed.Add(1)
	return nil
}

// fakeBaselines serves white images for every source in exists
type fakeBaselines struct {
	sourceDir string
	exists    map[string]bool
	errs      map[string]error
	disposed  atomic.Int32
}

func (f *fakeBaselines) Fetch(ctx context.Context, opts baseline.FetchOptions) (*types.BaselineResult, error) {
	if err := f.errs[opts.Source.String()]; err != nil {
		return nil, err
	}
	if !f.exists[opts.Source.String()] {
		return nil, baseline.ErrNotFound
	}
	if err := writeImage(opts.OutputPath, white, nil); err != nil {
		return nil, err
	}
	return &types.BaselineResult{Path: opts.OutputPath}, nil
}

func (f *fakeBaselines) LocalSourcePath(source types.BaselineSource) string {
	if source.IsStructured() {
		return ""
	}
	return filepath.Join(f.sourceDir, source.Path)
}

func (f *fakeBaselines) Dispose() error {
	f.disposed.Add(1)
	return nil
}

type fakeAnalyzer struct {
	analyses atomic.Int32
	fixes    atomic.Int32
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, in llm.AnalyzeInput) (*types.AnalyzeResult, error) {
	f.analyses.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.AnalyzeResult{
		Differences: []types.Difference{{ID: "diff-1", Type: "color", Location: "top left", Description: "black block", Severity: types.SeverityMajor}},
		Assessment:  types.Assessment{Score: 40, Grade: "F", Summary: "block added"},
		Usage:       &types.TokenUsage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
		Source:      llm.ProviderOpenAI,
	}, nil
}

func (f *fakeAnalyzer) SuggestFixes(ctx context.Context, target, variant string, diffs []types.Difference) ([]types.FixSuggestion, *types.TokenUsage, error) {
	f.fixes.Add(1)
	return []types.FixSuggestion{{DifferenceID: diffs[0].ID, Description: "remove the block", Confidence: 0.9}},
		&types.TokenUsage{PromptTokens: 200, CompletionTokens: 50, TotalTokens: 250}, nil
}

func (f *fakeAnalyzer) Provider(string) string { return llm.ProviderOpenAI }
func (f *fakeAnalyzer) Model(string) string    { return "gpt-4o-mini" }

var errPermanent = errors.New("page crashed")

type env struct {
	cfg       *config.Config
	screens   *fakeScreens
	baselines *fakeBaselines
	analyzer  *fakeAnalyzer
}

// newEnv configures one target "button" with the given variants, each
// served from URL /<variant> with a baseline <variant>.png
func newEnv(t *testing.T, variants ...string) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Directories = config.DirectoriesConfig{
		Baselines: filepath.Join(dir, "baselines"),
		Actuals:   filepath.Join(dir, "actuals"),
		Diffs:     filepath.Join(dir, "diffs"),
		Cache:     filepath.Join(dir, "cache"),
	}
	cfg.Server.URL = "http://localhost:6006"

	e := &env{
		cfg:       cfg,
		screens:   newFakeScreens(),
		baselines: &fakeBaselines{sourceDir: filepath.Join(dir, "src"), exists: make(map[string]bool), errs: make(map[string]error)},
		analyzer:  &fakeAnalyzer{},
	}

	target := config.TargetConfig{Name: "button", Type: types.TargetComponent}
	for _, v := range variants {
		target.Variants = append(target.Variants, config.VariantConfig{
			Name:     v,
			URL:      "/" + v,
			Baseline: types.BaselineSource{Path: v + ".png"},
		})
		e.baselines.exists[v+".png"] = true
	}
	cfg.Targets = []config.TargetConfig{target}
	require.NoError(t, cfg.Validate())
	return e
}

func (e *env) url(variant string) string {
	return "http://localhost:6006/" + variant
}
