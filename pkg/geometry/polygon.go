package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PolygonArea returns the unsigned area of a simple polygon (shoelace formula).
func PolygonArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return math.Abs(sum) / 2
}

// PathLength returns the length of an open polyline.
func PathLength(path []Point2D) float64 {
	return ScaledPathLength(path, 1, 1)
}

// ScaledPathLength returns the length of an open polyline after scaling x by
// sx and y by sy, e.g. to physical units on anisotropic pixels.
func ScaledPathLength(path []Point2D, sx, sy float64) float64 {
	var length float64
	for i := 1; i < len(path); i++ {
		a := []float64{path[i-1].X * sx, path[i-1].Y * sy}
		b := []float64{path[i].X * sx, path[i].Y * sy}
		length += floats.Distance(a, b, 2)
	}
	return length
}

// RemoveCollinear drops vertices of a closed polygon that lie on the straight
// segment between their neighbours, and repeated vertices.
func RemoveCollinear(polygon []Point2D) []Point2D {
	unique := make([]Point2D, 0, len(polygon))
	for i, p := range polygon {
		if i > 0 && p == polygon[i-1] {
			continue
		}
		unique = append(unique, p)
	}
	if len(unique) > 1 && unique[0] == unique[len(unique)-1] {
		unique = unique[:len(unique)-1]
	}
	if len(unique) < 3 {
		return unique
	}

	out := make([]Point2D, 0, len(unique))
	n := len(unique)
	for i := 0; i < n; i++ {
		prev := unique[(i+n-1)%n]
		cur := unique[i]
		next := unique[(i+1)%n]
		if math.Abs(crossProduct(prev, cur, next)) < 1e-12 &&
			(cur.X-prev.X)*(next.X-cur.X)+(cur.Y-prev.Y)*(next.Y-cur.Y) >= 0 {
			continue
		}
		out = append(out, cur)
	}
	return out
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
