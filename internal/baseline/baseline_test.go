package baseline_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/baseline"
	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/types"
)

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, A: 255})
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLocalFetchCopiesAndDescribes(t *testing.T) {
	base := t.TempDir()
	writeImage(t, filepath.Join(base, "baselines", "button.png"), 30, 20)
	out := filepath.Join(t.TempDir(), "run", "button", "primary.png")

	p := baseline.NewLocalProvider(base)
	res, err := p.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Path: "baselines/button.png"},
		OutputPath: out,
	})
	require.NoError(t, err)

	assert.Equal(t, out, res.Path)
	assert.FileExists(t, out)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, 30, res.Metadata.Width)
	assert.Equal(t, 20, res.Metadata.Height)
	assert.Len(t, res.Metadata.ContentHash, 64)
	assert.False(t, res.Metadata.FetchedAt.IsZero())
}

func TestLocalFetchSameSourceAndOutput(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "b.png")
	writeImage(t, path, 4, 4)

	res, err := baseline.NewLocalProvider(base).Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Path: "b.png"},
		OutputPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
}

func TestLocalFetchMissing(t *testing.T) {
	p := baseline.NewLocalProvider(t.TempDir())
	_, err := p.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Path: "nope.png"},
		OutputPath: filepath.Join(t.TempDir(), "out.png"),
	})
	assert.ErrorIs(t, err, baseline.ErrNotFound)

	ok, err := p.Exists(context.Background(), types.BaselineSource{Path: "nope.png"})
	require.NoError(t, err)
	assert.False(t, ok)
}

type stubProvider struct {
	name  string
	calls int32
}

func (s *stubProvider) Fetch(ctx context.Context, opts baseline.FetchOptions) (*types.BaselineResult, error) {
	atomic.AddInt32(&s.calls, 1)
	return &types.BaselineResult{Path: s.name}, nil
}

func TestRouterRoutesAndCaches(t *testing.T) {
	created := map[string]int{}
	providers := map[string]*stubProvider{}
	factory := func(backend string) (baseline.Provider, error) {
		created[backend]++
		if backend == "s3" {
			return nil, errors.New("unknown baseline provider")
		}
		p := &stubProvider{name: backend}
		providers[backend] = p
		return p, nil
	}
	r := baseline.NewRouterWithFactory(config.BaselineConfig{Provider: config.BaselineLocal}, factory)
	ctx := context.Background()

	res, err := r.Fetch(ctx, baseline.FetchOptions{Source: types.BaselineSource{Path: "a.png"}})
	require.NoError(t, err)
	assert.Equal(t, config.BaselineLocal, res.Path)

	res, err = r.Fetch(ctx, baseline.FetchOptions{Source: types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "1:2"}})
	require.NoError(t, err)
	assert.Equal(t, config.BaselineFigmaMCP, res.Path)

	_, err = r.Fetch(ctx, baseline.FetchOptions{Source: types.BaselineSource{Path: "b.png"}})
	require.NoError(t, err)

	assert.Equal(t, 1, created[config.BaselineLocal])
	assert.Equal(t, 1, created[config.BaselineFigmaMCP])
	assert.EqualValues(t, 2, providers[config.BaselineLocal].calls)

	_, err = r.Fetch(ctx, baseline.FetchOptions{Source: types.BaselineSource{Type: "s3", Source: "x"}})
	assert.Error(t, err)
}

func TestRouterLocalSourcePath(t *testing.T) {
	r := baseline.NewRouter(config.BaselineConfig{Provider: config.BaselineLocal, Local: config.LocalConfig{BaseDir: "/srv/app"}})

	assert.Equal(t, "/srv/app/baselines/a.png", r.LocalSourcePath(types.BaselineSource{Path: "baselines/a.png"}))
	assert.Equal(t, "/abs/a.png", r.LocalSourcePath(types.BaselineSource{Path: "/abs/a.png"}))
	assert.Empty(t, r.LocalSourcePath(types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "1:2"}))
}

type fakeClient struct {
	write  func(args map[string]interface{}) error
	reply  string
	err    error
	closes int32
	calls  []string
}

func (c *fakeClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.calls = append(c.calls, name)
	if c.err != nil {
		return "", c.err
	}
	if c.write != nil {
		if err := c.write(args); err != nil {
			return "", err
		}
	}
	return c.reply, nil
}

func (c *fakeClient) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return nil
}

func TestDesignToolFetch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "baselines", "card", "default.png")
	fc := &fakeClient{reply: "Downloaded 1 image"}
	fc.write = func(args map[string]interface{}) error {
		nodes := args["nodes"].([]map[string]interface{})
		writeImage(t, filepath.Join(args["localPath"].(string), nodes[0]["fileName"].(string)), 12, 8)
		return nil
	}

	connects := 0
	p := baseline.NewDesignToolProvider(config.FigmaMCPConfig{}, func(ctx context.Context) (baseline.ProtocolClient, error) {
		connects++
		return fc, nil
	})

	src := types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "10:20", FileKey: "FILE"}
	res, err := p.Fetch(context.Background(), baseline.FetchOptions{Source: src, OutputPath: out})
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.Equal(t, "FILE", res.Metadata.FileKey)
	assert.Equal(t, "10:20", res.Metadata.NodeID)
	assert.Equal(t, 12, res.Metadata.Width)
	assert.Equal(t, []string{"download_figma_images"}, fc.calls)

	_, err = p.Fetch(context.Background(), baseline.FetchOptions{Source: src, OutputPath: out})
	require.NoError(t, err)
	assert.Equal(t, 1, connects, "client connects lazily once")

	require.NoError(t, p.Dispose())
	require.NoError(t, p.Dispose())
	assert.EqualValues(t, 1, fc.closes)
}

func TestDesignToolVersionMarker(t *testing.T) {
	tests := []struct {
		name   string
		pinned string
		reply  string
		want   func(meta *types.BaselineMetadata) string
	}{
		{"pinned", "v42", `{"version":"1977"}`, func(*types.BaselineMetadata) string { return "v42" }},
		{"reported", "", `Downloaded 1 image (file version: 2024-05-01.3)`, func(*types.BaselineMetadata) string { return "2024-05-01.3" }},
		{"derived", "", "Downloaded 1 image", func(m *types.BaselineMetadata) string { return "content-" + m.ContentHash[:12] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClient{reply: tt.reply}
			fc.write = func(args map[string]interface{}) error {
				nodes := args["nodes"].([]map[string]interface{})
				writeImage(t, filepath.Join(args["localPath"].(string), nodes[0]["fileName"].(string)), 4, 4)
				return nil
			}
			p := baseline.NewDesignToolProvider(config.FigmaMCPConfig{Version: tt.pinned}, func(ctx context.Context) (baseline.ProtocolClient, error) {
				return fc, nil
			})
			defer p.Dispose()

			res, err := p.Fetch(context.Background(), baseline.FetchOptions{
				Source:     types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "1:2", FileKey: "FILE"},
				OutputPath: filepath.Join(t.TempDir(), "node.png"),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want(res.Metadata), res.Metadata.Version)
		})
	}
}

func TestDesignToolRequiresFileKey(t *testing.T) {
	p := baseline.NewDesignToolProvider(config.FigmaMCPConfig{}, func(ctx context.Context) (baseline.ProtocolClient, error) {
		t.Fatal("must not connect without a file key")
		return nil, nil
	})
	_, err := p.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "1:1"},
		OutputPath: filepath.Join(t.TempDir(), "x.png"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file key")
}

func TestDesignToolConnectionFailure(t *testing.T) {
	p := baseline.NewDesignToolProvider(config.FigmaMCPConfig{FileKey: "F"}, func(ctx context.Context) (baseline.ProtocolClient, error) {
		return nil, errors.New("exec: figma-mcp not found")
	})
	_, err := p.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "1:1"},
		OutputPath: filepath.Join(t.TempDir(), "x.png"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect design tool server")
}

func TestDesignToolMissingOutput(t *testing.T) {
	fc := &fakeClient{reply: "Node not found"}
	p := baseline.NewDesignToolProvider(config.FigmaMCPConfig{FileKey: "F"}, func(ctx context.Context) (baseline.ProtocolClient, error) {
		return fc, nil
	})
	_, err := p.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Type: config.BaselineFigmaMCP, Source: "9:9"},
		OutputPath: filepath.Join(t.TempDir(), "x.png"),
	})
	assert.ErrorIs(t, err, baseline.ErrNotFound)
}

func TestUnavailableClientFactory(t *testing.T) {
	factory := baseline.NewMCPClientFactory(config.FigmaMCPConfig{})
	c, err := factory(context.Background())
	require.NoError(t, err)

	_, err = c.CallTool(context.Background(), "download_figma_images", nil)
	assert.ErrorIs(t, err, baseline.ErrUnavailable)
}

func TestRouterDispose(t *testing.T) {
	fc := &fakeClient{}
	dt := baseline.NewDesignToolProvider(config.FigmaMCPConfig{FileKey: "F"}, func(ctx context.Context) (baseline.ProtocolClient, error) {
		return fc, nil
	})
	r := baseline.NewRouterWithFactory(config.BaselineConfig{Provider: config.BaselineFigmaMCP}, func(string) (baseline.Provider, error) {
		return dt, nil
	})

	_, _ = r.Fetch(context.Background(), baseline.FetchOptions{
		Source:     types.BaselineSource{Path: "1:1"},
		OutputPath: filepath.Join(t.TempDir(), "x.png"),
	})
	require.NoError(t, r.Dispose())
	assert.EqualValues(t, 1, fc.closes)
}
