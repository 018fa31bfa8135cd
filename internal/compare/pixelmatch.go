package compare

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/orisano/pixelmatch"
)

var (
	diffColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}
	aaColor   = color.NRGBA{R: 255, G: 255, B: 0, A: 255}
)

// grayAlpha is the opacity of the faded baseline drawn under diff pixels
const grayAlpha = 0.1

// DiffImages compares a and b pixel by pixel using pixelmatch's YIQ colour
// distance and returns the number of differing pixels together with a visual
// diff. Images of different sizes are both padded onto a transparent canvas
// of the larger width and height. colorThreshold is in [0,1]; smaller is
// stricter. With ignoreAA set, pixels detected as anti-aliasing are not counted.
func DiffImages(a, b image.Image, colorThreshold float64, ignoreAA bool) (int, *image.NRGBA, error) {
	w, h := canvasSize(a.Bounds(), b.Bounds())
	img1 := pad(a, w, h)
	img2 := pad(b, w, h)

	var out image.Image
	opts := []pixelmatch.MatchOption{
		pixelmatch.Threshold(colorThreshold),
		pixelmatch.Alpha(grayAlpha),
		pixelmatch.DiffColor(diffColor),
		pixelmatch.AntiAliasedColor(aaColor),
		pixelmatch.WriteTo(&out),
	}
	if !ignoreAA {
		opts = append(opts, pixelmatch.IncludeAntiAlias)
	}

	n, err := pixelmatch.MatchPixel(img1, img2, opts...)
	if err != nil {
		return 0, nil, fmt.Errorf("pixelmatch: %w", err)
	}

	diff := image.NewNRGBA(image.Rect(0, 0, w, h))
	if out != nil {
		draw.Draw(diff, diff.Bounds(), out, out.Bounds().Min, draw.Src)
	}
	return n, diff, nil
}

func canvasSize(a, b image.Rectangle) (int, int) {
	w, h := a.Dx(), a.Dy()
	if b.Dx() > w {
		w = b.Dx()
	}
	if b.Dy() > h {
		h = b.Dy()
	}
	return w, h
}

// pad copies src to the top-left of a w×h transparent canvas
func pad(src image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	b := src.Bounds()
	draw.Draw(dst, image.Rect(0, 0, b.Dx(), b.Dy()), src, b.Min, draw.Src)
	return dst
}
