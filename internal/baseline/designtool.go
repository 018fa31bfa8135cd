package baseline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// ErrUnavailable is returned when no design-tool server is configured
var ErrUnavailable = errors.New("design tool server unavailable")

// ProtocolClient calls tools on a design-tool server
type ProtocolClient interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Close() error
}

// ClientFactory connects a ProtocolClient
type ClientFactory func(ctx context.Context) (ProtocolClient, error)

// UnavailableClient fails every call; used when no server command is set
type UnavailableClient struct{}

func (UnavailableClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", fmt.Errorf("%w: set baseline.figma.command", ErrUnavailable)
}

func (UnavailableClient) Close() error { return nil }

// DesignToolProvider exports design frames through a tool server
type DesignToolProvider struct {
	cfg     config.FigmaMCPConfig
	connect ClientFactory

	mu       sync.Mutex
	client   ProtocolClient
	disposed bool
}

// NewDesignToolProvider creates a provider; the client connects on first fetch
func NewDesignToolProvider(cfg config.FigmaMCPConfig, connect ClientFactory) *DesignToolProvider {
	if cfg.Tool == "" {
		cfg.Tool = "download_figma_images"
	}
	return &DesignToolProvider{cfg: cfg, connect: connect}
}

func (p *DesignToolProvider) getClient(ctx context.Context) (ProtocolClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, fmt.Errorf("design tool provider disposed")
	}
	if p.client != nil {
		return p.client, nil
	}

	c, err := p.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect design tool server: %w", err)
	}
	p.client = c
	return c, nil
}

// Fetch downloads the node image named by the source into the output path
func (p *DesignToolProvider) Fetch(ctx context.Context, opts FetchOptions) (*types.BaselineResult, error) {
	fileKey := opts.Source.FileKey
	if fileKey == "" {
		fileKey = p.cfg.FileKey
	}
	if fileKey == "" {
		return nil, fmt.Errorf("figma baseline %s requires a file key", opts.Source)
	}

	nodeID := opts.Source.Source
	if !opts.Source.IsStructured() {
		nodeID = opts.Source.Path
	}
	if nodeID == "" {
		return nil, fmt.Errorf("figma baseline requires a node id")
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("figma baseline requires an output path")
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	dir := filepath.Dir(opts.OutputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	scale := p.cfg.Scale
	if scale <= 0 {
		scale = 2
	}
	args := map[string]interface{}{
		"fileKey":   fileKey,
		"localPath": dir,
		"pngScale":  scale,
		"nodes": []map[string]interface{}{{
			"nodeId":   nodeID,
			"fileName": filepath.Base(opts.OutputPath),
		}},
	}

	text, err := client.CallTool(ctx, p.cfg.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("download node %s: %w", nodeID, err)
	}
	logging.Debug("design tool responded for %s: %s", nodeID, truncate(text, 200))

	if _, err := os.Stat(opts.OutputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) && strings.Contains(strings.ToLower(text), "not found") {
			return nil, fmt.Errorf("%w: node %s in file %s", ErrNotFound, nodeID, fileKey)
		}
		return nil, fmt.Errorf("design tool did not write %s: %w", opts.OutputPath, err)
	}

	meta, err := describe(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	meta.FileKey = fileKey
	meta.NodeID = nodeID
	meta.Version = p.versionMarker(text, meta.ContentHash)
	meta.FetchedAt = time.Now()
	return &types.BaselineResult{Path: opts.OutputPath, Metadata: meta}, nil
}

// Dispose closes the client connection. Later calls are no-ops.
func (p *DesignToolProvider) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil
	}
	p.disposed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

var versionPattern = regexp.MustCompile(`(?i)"?version"?\s*[:=]\s*"?([A-Za-z0-9._-]+)`)

// versionMarker identifies the design revision a baseline came from: the
// configured pin, a version reported by the tool, or the content hash.
func (p *DesignToolProvider) versionMarker(response, contentHash string) string {
	if p.cfg.Version != "" {
		return p.cfg.Version
	}
	if m := versionPattern.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	if len(contentHash) > 12 {
		contentHash = contentHash[:12]
	}
	return "content-" + contentHash
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
