package baseline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// Factory builds the provider for a backend type
type Factory func(backend string) (Provider, error)

// Router sends plain paths to the default backend and structured sources to
// the backend they name. Providers are created on first use and cached.
type Router struct {
	defaultType string
	localBase   string
	factory     Factory

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRouter creates a router using the configured backends
func NewRouter(cfg config.BaselineConfig) *Router {
	return NewRouterWithFactory(cfg, DefaultFactory(cfg))
}

// NewRouterWithFactory creates a router with a custom provider factory
func NewRouterWithFactory(cfg config.BaselineConfig, factory Factory) *Router {
	defaultType := cfg.Provider
	if defaultType == "" {
		defaultType = config.BaselineLocal
	}
	return &Router{
		defaultType: defaultType,
		localBase:   cfg.Local.BaseDir,
		factory:     factory,
		providers:   make(map[string]Provider),
	}
}

// DefaultFactory knows the local and figma-mcp backends
func DefaultFactory(cfg config.BaselineConfig) Factory {
	return func(backend string) (Provider, error) {
		switch backend {
		case config.BaselineLocal:
			return NewLocalProvider(cfg.Local.BaseDir), nil
		case config.BaselineFigmaMCP:
			return NewDesignToolProvider(cfg.Figma, NewMCPClientFactory(cfg.Figma)), nil
		default:
			return nil, fmt.Errorf("unknown baseline provider %q", backend)
		}
	}
}

func (r *Router) backendFor(source types.BaselineSource) string {
	if source.IsStructured() {
		return source.Type
	}
	return r.defaultType
}

func (r *Router) provider(backend string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[backend]; ok {
		return p, nil
	}
	p, err := r.factory(backend)
	if err != nil {
		return nil, err
	}
	r.providers[backend] = p
	return p, nil
}

// Fetch routes the request to its backend
func (r *Router) Fetch(ctx context.Context, opts FetchOptions) (*types.BaselineResult, error) {
	backend := r.backendFor(opts.Source)
	p, err := r.provider(backend)
	if err != nil {
		return nil, err
	}
	logging.Debug("fetching baseline %s via %s", opts.Source, backend)
	return p.Fetch(ctx, opts)
}

// Exists reports whether a baseline exists. Backends without an Exister are
// assumed to have it.
func (r *Router) Exists(ctx context.Context, source types.BaselineSource) (bool, error) {
	p, err := r.provider(r.backendFor(source))
	if err != nil {
		return false, err
	}
	if ex, ok := p.(Exister); ok {
		return ex.Exists(ctx, source)
	}
	return true, nil
}

// LocalSourcePath returns the on-disk source file for plain paths routed to
// the local backend, or "" when the source lives elsewhere
func (r *Router) LocalSourcePath(source types.BaselineSource) string {
	if source.IsStructured() || r.defaultType != config.BaselineLocal || source.Path == "" {
		return ""
	}
	return resolvePath(r.localBase, source.Path)
}

// Dispose releases every cached provider that holds resources
func (r *Router) Dispose() error {
	r.mu.Lock()
	providers := r.providers
	r.providers = make(map[string]Provider)
	r.mu.Unlock()

	var errs []error
	for name, p := range providers {
		if d, ok := p.(Disposer); ok {
			if err := d.Dispose(); err != nil {
				errs = append(errs, fmt.Errorf("dispose %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
