package browser

import (
	"context"
	"errors"
	"time"

	"github.com/lance13c/vrt/internal/types"
)

var (
	// ErrAcquireTimeout is returned when no page frees up within the acquire timeout
	ErrAcquireTimeout = errors.New("timed out waiting for a free page")
	// ErrPoolClosed is returned to waiters and callers after Drain
	ErrPoolClosed = errors.New("page pool closed")
	// ErrNotConsistent is returned when repeated screenshots keep differing
	ErrNotConsistent = errors.New("screenshots are not consistent")
	// ErrEngineClosed is returned by Capture after Close
	ErrEngineClosed = errors.New("screenshot engine closed")
)

// Page is a single browser tab
type Page interface {
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, vp types.Viewport) error
	// Evaluate runs script and decodes its JSON result into res (res may be nil)
	Evaluate(ctx context.Context, script string, res interface{}) error
	// EvaluateAsync is Evaluate that awaits a returned promise
	EvaluateAsync(ctx context.Context, script string, res interface{}) error
	WaitVisible(ctx context.Context, selector string) error
	// WaitNetworkIdle blocks until no request has been in flight for quiet
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	// Screenshot returns PNG bytes of selector, the full page or the viewport
	Screenshot(ctx context.Context, selector string, fullPage bool) ([]byte, error)
	// Reset returns the tab to a blank state for reuse
	Reset(ctx context.Context) error
	Close() error
}

// Browser is one running browser process
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts browsers by engine name
type Launcher interface {
	Launch(ctx context.Context, engine string) (Browser, error)
}
