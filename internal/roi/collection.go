package roi

import "roi-transfer/pkg/geometry"

// Collection is an ordered sequence of regions. Position, not name, is what
// ties a region to its mask channel through a registration run.
type Collection []*Region

// Names returns the region names in order.
func (c Collection) Names() []string {
	names := make([]string, len(c))
	for i, r := range c {
		names[i] = r.Name
	}
	return names
}

// Clone deep-copies every region.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

// Transformed maps every region through t.
func (c Collection) Transformed(t geometry.AffineTransform) Collection {
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Transformed(t)
	}
	return out
}

// Overlay is an ordered container of regions attached to one raster image.
type Overlay struct {
	regions Collection
}

// NewOverlay creates an overlay holding copies of the given regions.
func NewOverlay(regions Collection) *Overlay {
	return &Overlay{regions: regions.Clone()}
}

// Len returns the number of regions in the overlay.
func (o *Overlay) Len() int {
	return len(o.regions)
}

// Regions returns copies of the overlay's regions in order.
func (o *Overlay) Regions() Collection {
	return o.regions.Clone()
}

// Clear removes all regions; the container itself stays attached.
func (o *Overlay) Clear() {
	o.regions = nil
}

// Transformed returns a new overlay with every region mapped through t.
func (o *Overlay) Transformed(t geometry.AffineTransform) *Overlay {
	return &Overlay{regions: o.regions.Transformed(t)}
}
