package mask

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"roi-transfer/pkg/geometry"
)

// Headings on the pixel-corner lattice, clockwise in image coordinates (y down).
const (
	east = iota
	south
	west
	north
)

var (
	stepX = [4]int{1, 0, -1, 0}
	stepY = [4]int{0, 1, 0, -1}
)

// TraceLargest thresholds ch (any non-zero sample is foreground), keeps the
// largest 4-connected component and returns its outer boundary as a polygon
// on pixel corners. Ties go to the component seen first in raster order.
// An empty channel returns nil.
func TraceLargest(ch gocv.Mat) ([]geometry.Point2D, error) {
	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(ch, &bin, 0, 255, gocv.ThresholdBinary)
	if bin.Type() != gocv.MatTypeCV8UC1 {
		conv := gocv.NewMat()
		bin.ConvertTo(&conv, gocv.MatTypeCV8U)
		bin.Close()
		bin = conv
	}

	if gocv.CountNonZero(bin) == 0 {
		return nil, nil
	}

	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponentsWithParams(bin, &labels, 4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	data, err := labels.DataPtrInt32()
	if err != nil {
		return nil, errors.Wrap(err, "reading component labels")
	}

	w, h := bin.Cols(), bin.Rows()
	label, start := largestComponent(data, n)
	if label == 0 {
		return nil, nil
	}

	inside := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && data[y*w+x] == int32(label)
	}
	return traceBoundary(inside, start%w, start/w), nil
}

// largestComponent returns the label with most pixels (ties: earliest first
// pixel) and the raster index of its first pixel. Label 0 is background.
func largestComponent(labels []int32, n int) (label, first int) {
	if n < 2 {
		return 0, -1
	}
	counts := make([]int, n)
	firsts := make([]int, n)
	for i := range firsts {
		firsts[i] = -1
	}
	for i, l := range labels {
		if l <= 0 || int(l) >= n {
			continue
		}
		if firsts[l] < 0 {
			firsts[l] = i
		}
		counts[l]++
	}

	best := 0
	for l := 1; l < n; l++ {
		if counts[l] == 0 {
			continue
		}
		if best == 0 || counts[l] > counts[best] ||
			(counts[l] == counts[best] && firsts[l] < firsts[best]) {
			best = l
		}
	}
	if best == 0 {
		return 0, -1
	}
	return best, firsts[best]
}

// traceBoundary follows the outer crack boundary of the component containing
// pixel (sx, sy), which must be its first pixel in raster order. The walk
// keeps the component on its right and turns right before going straight
// or left, so diagonal contacts do not join pixels. Only corners are emitted.
func traceBoundary(inside func(x, y int) bool, sx, sy int) []geometry.Point2D {
	valid := func(x, y, d int) bool {
		var rx, ry, lx, ly int
		switch d {
		case east:
			rx, ry, lx, ly = x, y, x, y-1
		case south:
			rx, ry, lx, ly = x-1, y, x, y
		case west:
			rx, ry, lx, ly = x-1, y-1, x-1, y
		default:
			rx, ry, lx, ly = x, y-1, x-1, y-1
		}
		return inside(rx, ry) && !inside(lx, ly)
	}

	pts := []geometry.Point2D{{X: float64(sx), Y: float64(sy)}}
	x, y, d := sx, sy, east
	for {
		x += stepX[d]
		y += stepY[d]
		if x == sx && y == sy {
			break
		}

		next := (d + 2) % 4
		for _, nd := range [3]int{(d + 1) % 4, d, (d + 3) % 4} {
			if valid(x, y, nd) {
				next = nd
				break
			}
		}
		if next != d {
			pts = append(pts, geometry.Point2D{X: float64(x), Y: float64(y)})
			d = next
		}
	}
	return pts
}
