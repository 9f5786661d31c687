package warp

import (
	"fmt"
	"math"

	"roi-transfer/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// ThinPlateSpline is a 2-D thin-plate spline interpolating a set of
// control point pairs.
type ThinPlateSpline struct {
	ctrl   []geometry.Point2D
	wx, wy []float64
	ax, ay [3]float64
}

// FitTPS fits a spline with TPS(src[i]) == dst[i]. It needs at least three
// non-collinear points.
func FitTPS(src, dst []geometry.Point2D) (*ThinPlateSpline, error) {
	n := len(src)
	if n != len(dst) {
		return nil, fmt.Errorf("point count mismatch: %d vs %d", n, len(dst))
	}
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 points, got %d", n)
	}

	// [K P; P^T 0] [w; a] = [v; 0]
	L := mat.NewDense(n+3, n+3, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			L.Set(i, j, tpsKernel(src[i].Distance(src[j])))
		}
		L.Set(i, n, 1)
		L.Set(i, n+1, src[i].X)
		L.Set(i, n+2, src[i].Y)
		L.Set(n, i, 1)
		L.Set(n+1, i, src[i].X)
		L.Set(n+2, i, src[i].Y)
	}

	V := mat.NewDense(n+3, 2, nil)
	for i := 0; i < n; i++ {
		V.Set(i, 0, dst[i].X)
		V.Set(i, 1, dst[i].Y)
	}

	var sol mat.Dense
	if err := sol.Solve(L, V); err != nil {
		return nil, fmt.Errorf("landmarks do not define a spline: %w", err)
	}

	t := &ThinPlateSpline{
		ctrl: append([]geometry.Point2D(nil), src...),
		wx:   make([]float64, n),
		wy:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		t.wx[i] = sol.At(i, 0)
		t.wy[i] = sol.At(i, 1)
	}
	for k := 0; k < 3; k++ {
		t.ax[k] = sol.At(n+k, 0)
		t.ay[k] = sol.At(n+k, 1)
	}
	for _, v := range append(append([]float64(nil), t.wx...), t.wy...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("landmarks do not define a spline")
		}
	}
	return t, nil
}

// Apply evaluates the spline at p.
func (t *ThinPlateSpline) Apply(p geometry.Point2D) geometry.Point2D {
	x := t.ax[0] + t.ax[1]*p.X + t.ax[2]*p.Y
	y := t.ay[0] + t.ay[1]*p.X + t.ay[2]*p.Y
	for i, c := range t.ctrl {
		u := tpsKernel(p.Distance(c))
		x += t.wx[i] * u
		y += t.wy[i] * u
	}
	return geometry.Point2D{X: x, Y: y}
}

// tpsKernel is U(r) = r^2 log r^2, with U(0) = 0.
func tpsKernel(r float64) float64 {
	if r == 0 {
		return 0
	}
	r2 := r * r
	return r2 * math.Log(r2)
}
