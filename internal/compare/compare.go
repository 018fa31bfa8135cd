package compare

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	// decoders for baselines exported as JPEG or GIF
	_ "image/gif"
	_ "image/jpeg"

	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// Options configures a single comparison
type Options struct {
	BaselinePath string
	ActualPath   string
	DiffPath     string

	// Threshold is the allowed share of mismatching pixels, 0.01 = 1%
	Threshold float64
	// ColorThreshold is the per-pixel YIQ sensitivity in [0,1]
	ColorThreshold float64
	// Antialiasing ignores pixels detected as anti-aliasing
	Antialiasing bool
}

// Engine compares baseline and actual screenshots
type Engine struct {
	// GridSize is the cell size used to group diff pixels into regions
	GridSize int
}

// NewEngine creates a comparison engine with the default region grid
func NewEngine() *Engine {
	return &Engine{GridSize: defaultGridSize}
}

// Compare diffs the two images and writes a diff PNG when they do not match
func (e *Engine) Compare(opts Options) (*types.CompareResult, error) {
	baseline, err := LoadImage(opts.BaselinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	actual, err := LoadImage(opts.ActualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load actual: %w", err)
	}

	mismatched, diffImg, err := DiffImages(baseline, actual, opts.ColorThreshold, opts.Antialiasing)
	if err != nil {
		return nil, err
	}

	bounds := diffImg.Bounds()
	total := bounds.Dx() * bounds.Dy()
	pct := 0.0
	if total > 0 {
		pct = float64(mismatched) / float64(total) * 100
	}

	result := &types.CompareResult{
		Match:              pct <= opts.Threshold*100,
		MismatchPercentage: pct,
		MismatchPixels:     mismatched,
		TotalPixels:        total,
		Regions:            []types.DiffRegion{},
	}

	bb, ab := baseline.Bounds(), actual.Bounds()
	if bb.Dx() != ab.Dx() || bb.Dy() != ab.Dy() {
		result.SizeDiff = &types.SizeDiff{
			Baseline: types.Dimensions{Width: bb.Dx(), Height: bb.Dy()},
			Actual:   types.Dimensions{Width: ab.Dx(), Height: ab.Dy()},
		}
		logging.Debug("size mismatch %s: baseline %dx%d, actual %dx%d",
			opts.ActualPath, bb.Dx(), bb.Dy(), ab.Dx(), ab.Dy())
	}

	if result.Match {
		return result, nil
	}

	if opts.DiffPath != "" {
		if err := SavePNG(opts.DiffPath, diffImg); err != nil {
			return nil, fmt.Errorf("failed to write diff image: %w", err)
		}
		result.DiffPath = opts.DiffPath
	}

	grid := e.GridSize
	if grid <= 0 {
		grid = defaultGridSize
	}
	result.Regions = FindRegions(diffImg, grid)

	return result, nil
}

// LoadImage decodes a PNG, JPEG or GIF file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// SavePNG encodes img to path, creating parent directories
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
