package browser_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lance13c/vrt/internal/browser"
	"github.com/lance13c/vrt/internal/types"
)

func pngBytes(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fakePage struct {
	id int

	mu          sync.Mutex
	navigations int
	scripts     []string
	viewport    types.Viewport
	closed      int32
	resets      int32

	navigateErrs []error // consumed one per Navigate
	resetErr     error
	idleErr      error
	waitErr      error
	shots        [][]byte // consumed one per Screenshot; last one repeats
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
	if len(p.navigateErrs) > 0 {
		err := p.navigateErrs[0]
		p.navigateErrs = p.navigateErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) SetViewport(ctx context.Context, vp types.Viewport) error {
	p.mu.Lock()
	p.viewport = vp
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
	if b, ok := res.(*bool); ok {
		*b = true
	}
	return nil
}

func (p *fakePage) EvaluateAsync(ctx context.Context, script string, res interface{}) error {
	return p.Evaluate(ctx, script, res)
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	return p.waitErr
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return p.idleErr
}

func (p *fakePage) Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.shots) == 0 {
		return pngBytes(8, 8, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), nil
	}
	shot := p.shots[0]
	if len(p.shots) > 1 {
		p.shots = p.shots[1:]
	}
	return shot, nil
}

func (p *fakePage) Reset(ctx context.Context) error {
	atomic.AddInt32(&p.resets, 1)
	return p.resetErr
}

func (p *fakePage) Close() error {
	atomic.AddInt32(&p.closed, 1)
	return nil
}

func (p *fakePage) isClosed() bool { return atomic.LoadInt32(&p.closed) > 0 }

type fakeBrowser struct {
	mu      sync.Mutex
	pages   []*fakePage
	closes  int32
	prepare func(*fakePage)
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &fakePage{id: len(b.pages) + 1}
	if b.prepare != nil {
		b.prepare(p)
	}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	atomic.AddInt32(&b.closes, 1)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	browsers map[string]*fakeBrowser
	prepare  func(*fakePage)
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{browsers: make(map[string]*fakeBrowser)}
}

func (l *fakeLauncher) Launch(ctx context.Context, engine string) (browser.Browser, error) {
	switch engine {
	case browser.EngineChromium, browser.EngineChrome, browser.EngineEdge, browser.EngineBrave:
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", engine)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := &fakeBrowser{prepare: l.prepare}
	l.browsers[engine] = b
	return b, nil
}

// pageSource opens numbered fake pages for pool tests
type pageSource struct {
	mu     sync.Mutex
	opened []*fakePage
}

func (s *pageSource) open(ctx context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakePage{id: len(s.opened) + 1}
	s.opened = append(s.opened, p)
	return p, nil
}
