package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// Supported engines. All of them speak CDP.
const (
	EngineChromium = "chromium"
	EngineChrome   = "chrome"
	EngineEdge     = "edge"
	EngineBrave    = "brave"
)

// ChromeLauncher starts CDP browsers through chromedp
type ChromeLauncher struct {
	Headless bool
	// ExecPaths overrides executable discovery per engine
	ExecPaths map[string]string
	// ExtraArgs are appended as --flags per engine
	ExtraArgs map[string][]string
}

// NewChromeLauncher creates a launcher
func NewChromeLauncher(headless bool) *ChromeLauncher {
	return &ChromeLauncher{
		Headless:  headless,
		ExecPaths: make(map[string]string),
		ExtraArgs: make(map[string][]string),
	}
}

// candidates lists known executable locations per engine and OS
func candidates(engine string) ([]string, error) {
	switch engine {
	case EngineChromium:
		switch runtime.GOOS {
		case "darwin":
			return []string{"/Applications/Chromium.app/Contents/MacOS/Chromium"}, nil
		case "windows":
			return []string{`C:\Program Files\Chromium\Application\chrome.exe`}, nil
		default:
			return []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}, nil
		}
	case EngineChrome:
		switch runtime.GOOS {
		case "darwin":
			return []string{
				"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
				"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			}, nil
		case "windows":
			return []string{
				`C:\Program Files\Google\Chrome\Application\chrome.exe`,
				`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			}, nil
		default:
			return []string{"google-chrome", "google-chrome-stable", "chrome"}, nil
		}
	case EngineEdge:
		switch runtime.GOOS {
		case "darwin":
			return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}, nil
		case "windows":
			return []string{`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`}, nil
		default:
			return []string{"microsoft-edge", "microsoft-edge-stable"}, nil
		}
	case EngineBrave:
		switch runtime.GOOS {
		case "darwin":
			return []string{"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"}, nil
		case "windows":
			return []string{`C:\Program Files\BraveSoftware\Brave-Browser\Application\brave.exe`}, nil
		default:
			return []string{"brave-browser", "brave"}, nil
		}
	}
	return nil, fmt.Errorf("unsupported browser engine %q (want chromium, chrome, edge or brave)", engine)
}

// findExecutable resolves the executable for an engine
func findExecutable(engine string) (string, error) {
	paths, err := candidates(engine)
	if err != nil {
		return "", err
	}

	for _, path := range paths {
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			if _, err := os.Stat(path); err == nil {
				logging.Debug("Found %s at: %s", engine, path)
				return path, nil
			}
			continue
		}
		if found, err := exec.LookPath(path); err == nil {
			logging.Debug("Found %s at: %s", engine, found)
			return found, nil
		}
	}

	return "", fmt.Errorf("%s browser not found (tried %v)", engine, paths)
}

// Launch starts a browser process for engine
func (l *ChromeLauncher) Launch(ctx context.Context, engine string) (Browser, error) {
	execPath := l.ExecPaths[engine]
	if execPath == "" {
		var err error
		execPath, err = findExecutable(engine)
		if err != nil {
			return nil, err
		}
	}
	logging.Info("Launching %s from: %s", engine, execPath)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !l.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	for _, arg := range l.ExtraArgs[engine] {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	// The browser must outlive ctx, which only bounds startup
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logging.Debug("["+engine+"] "+format, v...)
		}),
	)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start %s: %w", engine, err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start %s: %w", engine, ctx.Err())
	}

	return &chromeBrowser{
		engine:      engine,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}, nil
}

type chromeBrowser struct {
	engine      string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewPage opens a tab as a child chromedp context of the browser
func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	p := &chromePage{ctx: tabCtx, cancel: cancel}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := p.run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open %s tab: %w", b.engine, err)
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func (p *chromePage) onEvent(ev interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight == nil {
		p.inflight = make(map[network.RequestID]struct{})
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(p.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(p.inflight, e.RequestID)
	default:
		return
	}
	p.lastActivity = time.Now()
}

// run executes actions on the tab while honouring ctx. Cancelling a plain
// child of the tab context aborts the actions without closing the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.inflight = make(map[network.RequestID]struct{})
	p.lastActivity = time.Now()
	p.mu.Unlock()
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) SetViewport(ctx context.Context, vp types.Viewport) error {
	scale := vp.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	return p.run(ctx, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), chromedp.EmulateScale(scale)))
}

func (p *chromePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	return p.run(ctx, chromedp.Evaluate(script, res))
}

func (p *chromePage) EvaluateAsync(ctx context.Context, script string, res interface{}) error {
	return p.run(ctx, chromedp.Evaluate(script, res, func(params *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		idle := len(p.inflight) == 0 && time.Since(p.lastActivity) >= quiet
		p.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for network idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *chromePage) Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	switch {
	case selector != "":
		action = chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)
	case fullPage:
		// quality 100 keeps PNG encoding
		action = chromedp.FullScreenshot(&buf, 100)
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}

	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Reset(ctx context.Context) error {
	return p.run(ctx, chromedp.Navigate("about:blank"))
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
