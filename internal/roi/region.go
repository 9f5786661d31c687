// Package roi provides named regions of interest, ordered region collections,
// image overlays and the region store.
package roi

import (
	"roi-transfer/pkg/geometry"
)

// Kind classifies the shape of a region.
type Kind int

const (
	KindPolygon  Kind = iota // Closed polygon drawn vertex by vertex
	KindFreehand             // Closed freehand outline
	KindTraced               // Closed outline traced from a binary mask
	KindLine                 // Straight line (two vertices) or polyline
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindFreehand:
		return "freehand"
	case KindTraced:
		return "traced"
	case KindLine:
		return "line"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back to a Kind. Unknown names map to KindPolygon.
func ParseKind(s string) Kind {
	switch s {
	case "freehand":
		return KindFreehand
	case "traced":
		return KindTraced
	case "line":
		return KindLine
	default:
		return KindPolygon
	}
}

// Region is a named 2-D shape in pixel coordinates of the image it is attached to.
type Region struct {
	Name   string             `json:"name"`
	Kind   Kind               `json:"-"`
	Points []geometry.Point2D `json:"points"`
}

// NewPolygon creates a closed polygon region.
func NewPolygon(name string, points ...geometry.Point2D) *Region {
	return &Region{Name: name, Kind: KindPolygon, Points: points}
}

// NewRectangle creates a rectangular polygon region.
func NewRectangle(name string, x, y, w, h float64) *Region {
	return NewPolygon(name,
		geometry.Point2D{X: x, Y: y},
		geometry.Point2D{X: x + w, Y: y},
		geometry.Point2D{X: x + w, Y: y + h},
		geometry.Point2D{X: x, Y: y + h},
	)
}

// NewLine creates a straight line region between two points.
func NewLine(name string, x1, y1, x2, y2 float64) *Region {
	return &Region{
		Name:   name,
		Kind:   KindLine,
		Points: []geometry.Point2D{{X: x1, Y: y1}, {X: x2, Y: y2}},
	}
}

// IsLine reports whether the region is a line selection.
func (r *Region) IsLine() bool {
	return r.Kind == KindLine
}

// IsArea reports whether the region encloses an area.
func (r *Region) IsArea() bool {
	return r.Kind != KindLine && len(r.Points) >= 3
}

// IsDegenerate reports whether the region has no usable geometry, e.g. a
// region that collapsed to nothing during registration.
func (r *Region) IsDegenerate() bool {
	if r.IsLine() {
		return len(r.Points) < 2
	}
	return len(r.Points) < 3
}

// Bounds returns the bounding rectangle in pixel coordinates.
func (r *Region) Bounds() geometry.Rect {
	return geometry.BoundingBox(r.Points)
}

// Length returns the pixel length of a line region, or the perimeter of an area.
func (r *Region) Length() float64 {
	if r.IsLine() {
		return geometry.PathLength(r.Points)
	}
	if len(r.Points) < 2 {
		return 0
	}
	closed := append(append([]geometry.Point2D(nil), r.Points...), r.Points[0])
	return geometry.PathLength(closed)
}

// Area returns the enclosed area in square pixels (0 for lines).
func (r *Region) Area() float64 {
	if !r.IsArea() {
		return 0
	}
	return geometry.PolygonArea(r.Points)
}

// Clone returns a deep copy of the region.
func (r *Region) Clone() *Region {
	c := *r
	c.Points = append([]geometry.Point2D(nil), r.Points...)
	return &c
}

// Transformed returns a copy of the region with every vertex mapped through t.
func (r *Region) Transformed(t geometry.AffineTransform) *Region {
	c := r.Clone()
	for i, p := range c.Points {
		c.Points[i] = t.Apply(p)
	}
	return c
}
