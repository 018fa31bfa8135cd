package compare_test

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/compare"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, compare.SavePNG(path, img))
	return path
}

var (
	blue = color.NRGBA{R: 30, G: 60, B: 200, A: 255}
	red  = color.NRGBA{R: 220, G: 20, B: 20, A: 255}
)

func TestCompareIdentical(t *testing.T) {
	dir := t.TempDir()
	base := writePNG(t, dir, "base.png", solid(50, 40, blue))
	actual := writePNG(t, dir, "actual.png", solid(50, 40, blue))
	diffPath := filepath.Join(dir, "diff.png")

	res, err := compare.NewEngine().Compare(compare.Options{
		BaselinePath:   base,
		ActualPath:     actual,
		DiffPath:       diffPath,
		Threshold:      0,
		ColorThreshold: 0.1,
	})
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.Zero(t, res.MismatchPixels)
	assert.Equal(t, 2000, res.TotalPixels)
	assert.Empty(t, res.DiffPath)
	assert.Empty(t, res.Regions)
	assert.Nil(t, res.SizeDiff)
	assert.NoFileExists(t, diffPath)
}

func TestCompareMismatchWritesDiff(t *testing.T) {
	dir := t.TempDir()
	changed := solid(64, 64, blue)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			changed.SetNRGBA(x, y, red)
		}
	}
	base := writePNG(t, dir, "base.png", solid(64, 64, blue))
	actual := writePNG(t, dir, "actual.png", changed)
	diffPath := filepath.Join(dir, "diffs", "diff.png")

	res, err := compare.NewEngine().Compare(compare.Options{
		BaselinePath:   base,
		ActualPath:     actual,
		DiffPath:       diffPath,
		Threshold:      0.01,
		ColorThreshold: 0.1,
		Antialiasing:   true,
	})
	require.NoError(t, err)

	assert.False(t, res.Match)
	assert.Equal(t, 256, res.MismatchPixels)
	assert.InDelta(t, 6.25, res.MismatchPercentage, 1e-9)
	assert.Equal(t, diffPath, res.DiffPath)
	assert.FileExists(t, diffPath)

	require.Len(t, res.Regions, 1)
	assert.Equal(t, 256, res.Regions[0].PixelCount)
	assert.Equal(t, 16, res.Regions[0].Bounds.Width)
	assert.Equal(t, compare.RegionColor, res.Regions[0].Type)
}

func TestCompareThresholdBoundary(t *testing.T) {
	dir := t.TempDir()
	changed := solid(10, 10, blue)
	changed.SetNRGBA(0, 0, red)
	base := writePNG(t, dir, "base.png", solid(10, 10, blue))
	actual := writePNG(t, dir, "actual.png", changed)

	// exactly 1% mismatching pixels with a 1% threshold is still a match
	res, err := compare.NewEngine().Compare(compare.Options{
		BaselinePath:   base,
		ActualPath:     actual,
		DiffPath:       filepath.Join(dir, "diff.png"),
		Threshold:      0.01,
		ColorThreshold: 0.1,
	})
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.InDelta(t, 1.0, res.MismatchPercentage, 1e-9)
	assert.Empty(t, res.DiffPath)
}

func TestCompareSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	base := writePNG(t, dir, "base.png", solid(100, 100, blue))
	actual := writePNG(t, dir, "actual.png", solid(60, 80, blue))

	res, err := compare.NewEngine().Compare(compare.Options{
		BaselinePath:   base,
		ActualPath:     actual,
		DiffPath:       filepath.Join(dir, "diff.png"),
		Threshold:      0.01,
		ColorThreshold: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, 100*100, res.TotalPixels)
	require.NotNil(t, res.SizeDiff)
	assert.Equal(t, 100, res.SizeDiff.Baseline.Width)
	assert.Equal(t, 100, res.SizeDiff.Baseline.Height)
	assert.Equal(t, 60, res.SizeDiff.Actual.Width)
	assert.Equal(t, 80, res.SizeDiff.Actual.Height)
	assert.Equal(t, 100*100-60*80, res.MismatchPixels)
	assert.False(t, res.Match)
}

func TestCompareMissingFile(t *testing.T) {
	dir := t.TempDir()
	base := writePNG(t, dir, "base.png", solid(4, 4, blue))

	_, err := compare.NewEngine().Compare(compare.Options{
		BaselinePath: base,
		ActualPath:   filepath.Join(dir, "missing.png"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiffImagesIgnoresSubThresholdNoise(t *testing.T) {
	a := solid(8, 8, blue)
	b := solid(8, 8, color.NRGBA{R: 31, G: 60, B: 200, A: 255})

	n, _, err := compare.DiffImages(a, b, 0.1, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, _, err = compare.DiffImages(a, b, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 64, n, "zero colour threshold flags any change")
}

func TestDiffImagesDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	pixels := gen.SliceOfN(64, gen.UInt8())

	properties.Property("same inputs give the same count and diff", prop.ForAll(
		func(p1, p2 []uint8) bool {
			a := image.NewNRGBA(image.Rect(0, 0, 4, 4))
			b := image.NewNRGBA(image.Rect(0, 0, 4, 4))
			copy(a.Pix, p1)
			copy(b.Pix, p2)

			n1, d1, err1 := compare.DiffImages(a, b, 0.1, true)
			n2, d2, err2 := compare.DiffImages(a, b, 0.1, true)
			return err1 == nil && err2 == nil && n1 == n2 && string(d1.Pix) == string(d2.Pix)
		},
		pixels, pixels,
	))

	properties.Property("an image never differs from itself", prop.ForAll(
		func(p []uint8) bool {
			a := image.NewNRGBA(image.Rect(0, 0, 4, 4))
			copy(a.Pix, p)
			n, _, err := compare.DiffImages(a, a, 0, false)
			return err == nil && n == 0
		},
		pixels,
	))

	properties.TestingRun(t)
}

func TestFindRegionsSeparatesComponents(t *testing.T) {
	diff := solid(64, 64, color.NRGBA{A: 255})
	red := color.NRGBA{R: 255, A: 255}
	for x := 0; x < 10; x++ {
		diff.SetNRGBA(x, 0, red)
	}
	for y := 48; y < 64; y++ {
		for x := 48; x < 64; x++ {
			diff.SetNRGBA(x, y, red)
		}
	}

	regions := compare.FindRegions(diff, 16)
	require.Len(t, regions, 2)
	assert.Equal(t, 256, regions[0].PixelCount)
	assert.Equal(t, 48, regions[0].Bounds.X)
	assert.Equal(t, 10, regions[1].PixelCount)
}
