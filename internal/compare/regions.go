package compare

import (
	"image"
	"sort"

	"github.com/lance13c/vrt/internal/types"
)

const defaultGridSize = 16

// Region type labels
const (
	RegionLayout  = "layout"
	RegionText    = "text"
	RegionColor   = "color"
	RegionContent = "content"
)

// FindRegions groups red diff pixels into grid cells, joins neighbouring
// cells into connected components and returns one region per component,
// largest first
func FindRegions(diff *image.NRGBA, grid int) []types.DiffRegion {
	b := diff.Bounds()
	cols := (b.Dx() + grid - 1) / grid
	rows := (b.Dy() + grid - 1) / grid
	if cols == 0 || rows == 0 {
		return []types.DiffRegion{}
	}

	counts := make([]int, cols*rows)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if diff.NRGBAAt(x, y) == diffColor {
				counts[(y/grid)*cols+x/grid]++
			}
		}
	}

	visited := make([]bool, len(counts))
	canvas := b.Dx() * b.Dy()
	regions := []types.DiffRegion{}

	for start := range counts {
		if counts[start] == 0 || visited[start] {
			continue
		}

		minC, minR := cols, rows
		maxC, maxR := -1, -1
		pixels := 0
		stack := []int{start}
		visited[start] = true

		for len(stack) > 0 {
			cell := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			c, r := cell%cols, cell/cols
			pixels += counts[cell]
			minC, maxC = min(minC, c), max(maxC, c)
			minR, maxR = min(minR, r), max(maxR, r)

			for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nc, nr := c+d[0], r+d[1]
				if nc < 0 || nr < 0 || nc >= cols || nr >= rows {
					continue
				}
				n := nr*cols + nc
				if counts[n] > 0 && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		x0, y0 := minC*grid, minR*grid
		x1 := min((maxC+1)*grid, b.Dx())
		y1 := min((maxR+1)*grid, b.Dy())
		rect := types.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}

		regions = append(regions, types.DiffRegion{
			Bounds:     rect,
			PixelCount: pixels,
			Type:       classify(rect, pixels, canvas),
		})
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].PixelCount > regions[j].PixelCount
	})
	return regions
}

func classify(r types.Rect, pixels, canvas int) string {
	area := r.Width * r.Height
	switch {
	case canvas > 0 && area*4 >= canvas:
		return RegionLayout
	case r.Width >= 3*r.Height && r.Height <= 2*defaultGridSize:
		return RegionText
	case area > 0 && float64(pixels)/float64(area) >= 0.6:
		return RegionColor
	default:
		return RegionContent
	}
}
