package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// CaptureOptions describes one screenshot
type CaptureOptions struct {
	URL          string
	OutputPath   string
	Selector     string
	WaitSelector string
	Viewport     *types.Viewport
	// Browser selects the engine; empty means the first configured one
	Browser string
}

// Engine captures screenshots through one page pool per browser engine
type Engine struct {
	cfg        config.ScreenshotConfig
	launcher   Launcher
	stabilizer *Stabilizer

	mu       sync.Mutex
	browsers map[string]Browser
	pools    map[string]*Pool
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// NewEngine creates a screenshot engine. Browsers start on Initialize or on
// first use.
func NewEngine(cfg config.ScreenshotConfig, launcher Launcher) *Engine {
	return &Engine{
		cfg:        cfg,
		launcher:   launcher,
		stabilizer: NewStabilizer(cfg.Stability),
		browsers:   make(map[string]Browser),
		pools:      make(map[string]*Pool),
	}
}

// Initialize launches every configured engine
func (e *Engine) Initialize(ctx context.Context) error {
	for _, name := range e.cfg.Browsers {
		if _, err := e.pool(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) defaultBrowser() string {
	if len(e.cfg.Browsers) > 0 {
		return e.cfg.Browsers[0]
	}
	return EngineChromium
}

// pool returns the pool for engine, launching the browser on first use
func (e *Engine) pool(ctx context.Context, engine string) (*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if p, ok := e.pools[engine]; ok {
		return p, nil
	}

	b, err := e.launcher.Launch(ctx, engine)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", engine, err)
	}

	p := NewPool(b.NewPage, PoolOptions{
		MaxPages:       e.cfg.Pool.MaxPages,
		MaxIdle:        e.cfg.Pool.MaxIdle,
		AcquireTimeout: e.cfg.Pool.AcquireTimeout,
	})
	e.browsers[engine] = b
	e.pools[engine] = p
	return p, nil
}

func (e *Engine) viewportFor(engine string, override *types.Viewport) types.Viewport {
	if override != nil && !override.IsZero() {
		return *override
	}
	if o, ok := e.cfg.BrowserOverrides[engine]; ok && o.Viewport != nil {
		return *o.Viewport
	}
	return e.cfg.Viewport
}

// Capture takes a stabilised screenshot and writes it to opts.OutputPath,
// retrying transient failures
func (e *Engine) Capture(ctx context.Context, opts CaptureOptions) (string, error) {
	engine := opts.Browser
	if engine == "" {
		engine = e.defaultBrowser()
	}

	pool, err := e.pool(ctx, engine)
	if err != nil {
		return "", err
	}

	label := "screenshot " + opts.URL
	err = withRetry(ctx, label, e.cfg.Retries, e.cfg.RetryDelay, func() error {
		return e.captureOnce(ctx, pool, engine, opts)
	})
	if err != nil {
		return "", err
	}
	return opts.OutputPath, nil
}

func (e *Engine) captureOnce(ctx context.Context, pool *Pool, engine string, opts CaptureOptions) error {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	page, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pool.Release(page)

	if err := page.SetViewport(ctx, e.viewportFor(engine, opts.Viewport)); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := page.Navigate(ctx, opts.URL); err != nil {
		return fmt.Errorf("navigate to %s: %w", opts.URL, err)
	}
	if opts.WaitSelector != "" {
		if err := page.WaitVisible(ctx, opts.WaitSelector); err != nil {
			return fmt.Errorf("waiting for selector %s: %w", opts.WaitSelector, err)
		}
	}
	if err := e.stabilizer.Prepare(ctx, page); err != nil {
		return fmt.Errorf("stabilize page: %w", err)
	}

	var shot []byte
	if e.cfg.Stability.Consistency.Attempts > 1 {
		shot, err = e.stabilizer.CaptureConsistent(ctx, page, opts.Selector, e.cfg.FullPage)
	} else {
		shot, err = page.Screenshot(ctx, opts.Selector, e.cfg.FullPage)
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err != nil {
		return fmt.Errorf("create screenshot directory: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, shot, 0644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Close drains every pool and then closes the browsers. It is safe to call
// more than once and from several goroutines.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		pools := e.pools
		browsers := e.browsers
		e.pools = make(map[string]*Pool)
		e.browsers = make(map[string]Browser)
		e.mu.Unlock()

		for _, p := range pools {
			p.Drain()
		}

		var errs []error
		for name, b := range browsers {
			if err := b.Close(); err != nil {
				logging.Warn("closing %s: %v", name, err)
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
