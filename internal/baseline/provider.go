package baseline

import (
	"context"
	"errors"

	"github.com/lance13c/vrt/internal/types"
)

// ErrNotFound is returned when a baseline does not exist yet
var ErrNotFound = errors.New("baseline not found")

// FetchOptions describes one baseline request
type FetchOptions struct {
	Source types.BaselineSource
	// OutputPath is where the baseline image must be written
	OutputPath string
	// Viewport is passed to backends that render at a size
	Viewport *types.Viewport
}

// Provider fetches baseline images from one backend
type Provider interface {
	Fetch(ctx context.Context, opts FetchOptions) (*types.BaselineResult, error)
}

// Exister is implemented by providers that can check for a baseline cheaply
type Exister interface {
	Exists(ctx context.Context, source types.BaselineSource) (bool, error)
}

// Disposer is implemented by providers holding external resources
type Disposer interface {
	Dispose() error
}
