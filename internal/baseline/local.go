package baseline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/lance13c/vrt/internal/types"
)

// LocalProvider reads baselines from the filesystem
type LocalProvider struct {
	baseDir string
}

// NewLocalProvider creates a provider resolving relative paths against baseDir
func NewLocalProvider(baseDir string) *LocalProvider {
	return &LocalProvider{baseDir: baseDir}
}

func (p *LocalProvider) sourcePath(source types.BaselineSource) string {
	path := source.Path
	if source.IsStructured() {
		path = source.Source
	}
	return resolvePath(p.baseDir, path)
}

// Exists checks the source file
func (p *LocalProvider) Exists(ctx context.Context, source types.BaselineSource) (bool, error) {
	_, err := os.Stat(p.sourcePath(source))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Fetch copies the source image to the output path and describes it
func (p *LocalProvider) Fetch(ctx context.Context, opts FetchOptions) (*types.BaselineResult, error) {
	src := p.sourcePath(opts.Source)

	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return nil, fmt.Errorf("stat baseline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := opts.OutputPath
	if out == "" {
		out = src
	}
	if !samePath(src, out) {
		if err := CopyFile(src, out); err != nil {
			return nil, fmt.Errorf("copy baseline: %w", err)
		}
	}

	meta, err := describe(out)
	if err != nil {
		return nil, err
	}
	return &types.BaselineResult{Path: out, Metadata: meta}, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// describe reads dimensions and a SHA-256 content hash
func describe(path string) (*types.BaselineMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	cfg, _, err := image.DecodeConfig(io.TeeReader(f, h))
	if err != nil {
		return nil, fmt.Errorf("read baseline image %s: %w", path, err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return &types.BaselineMetadata{
		Width:       cfg.Width,
		Height:      cfg.Height,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
		FetchedAt:   time.Now(),
	}, nil
}

// CopyFile copies src to dst, creating parent directories
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
