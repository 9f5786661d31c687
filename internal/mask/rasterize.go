// Package mask packs region sets into multi-channel composites of binary masks
// and recovers traced regions from warped composites.
package mask

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
	"roi-transfer/pkg/geometry"
)

// ErrMaskRasterizationFailed is returned when a region produces no foreground pixels.
var ErrMaskRasterizationFailed = errors.New("mask rasterization failed")

var maskWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Rasterize draws r into a new width x height 8-bit mask, 255 inside and 0
// outside. Area regions cover every pixel whose centre lies inside the
// polygon (even-odd rule); line regions are drawn 1 px wide through their
// vertices.
func Rasterize(r *roi.Region, width, height int) (*rimage.Raster, error) {
	if r.IsDegenerate() {
		return nil, errors.Wrapf(ErrMaskRasterizationFailed, "region %q has %d vertices", r.Name, len(r.Points))
	}

	var m *rimage.Raster
	if r.IsLine() {
		m = rimage.NewGray(r.Name, width, height)
		for i := 1; i < len(r.Points); i++ {
			gocv.Line(&m.Mat, pixelOf(r.Points[i-1]), pixelOf(r.Points[i]), maskWhite, 1)
		}
	} else {
		var err error
		m, err = rimage.GrayFromBytes(r.Name, width, height, fillPolygon(r.Points, width, height))
		if err != nil {
			return nil, err
		}
	}

	if gocv.CountNonZero(m.Mat) == 0 {
		m.Close()
		return nil, errors.Wrapf(ErrMaskRasterizationFailed, "region %q covers no pixels of a %dx%d image", r.Name, width, height)
	}
	return m, nil
}

// fillPolygon scan-converts a polygon with the pixel-centre rule.
func fillPolygon(poly []geometry.Point2D, width, height int) []byte {
	buf := make([]byte, width*height)
	bounds := geometry.BoundingBox(poly)
	_, minY, _, maxY := bounds.Pixels(width, height)

	xs := make([]float64, 0, 8)
	n := len(poly)
	for y := minY; y < maxY; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := poly[j], poly[i]
			if (a.Y <= yc) == (b.Y <= yc) {
				continue
			}
			xs = append(xs, a.X+(yc-a.Y)*(b.X-a.X)/(b.Y-a.Y))
		}
		sort.Float64s(xs)

		row := buf[y*width : (y+1)*width]
		for k := 0; k+1 < len(xs); k += 2 {
			// pixel x is inside when xs[k] <= x+0.5 < xs[k+1]
			from := clamp(int(math.Ceil(xs[k]-0.5)), 0, width)
			to := clamp(int(math.Ceil(xs[k+1]-0.5)), 0, width)
			for x := from; x < to; x++ {
				row[x] = 255
			}
		}
	}
	return buf
}

func pixelOf(p geometry.Point2D) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
