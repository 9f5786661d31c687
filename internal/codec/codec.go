// Package codec moves ordered region collections on and off raster overlays.
package codec

import (
	"github.com/pkg/errors"

	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
)

var (
	// ErrEmptyRegionSet is returned when there is nothing to encode.
	ErrEmptyRegionSet = errors.New("empty region set")
	// ErrMissingOverlay is returned when decoding an image with no overlay.
	ErrMissingOverlay = errors.New("image has no overlay")
	// ErrCountMismatch is returned when the number of regions on an image
	// differs from the number expected.
	ErrCountMismatch = errors.New("region count mismatch")
)

// ToOverlay replaces img's overlay with copies of regions, in order.
func ToOverlay(regions roi.Collection, img *rimage.Raster) error {
	if len(regions) == 0 {
		return errors.Wrapf(ErrEmptyRegionSet, "encoding onto %q", img.Title)
	}
	img.Overlay = roi.NewOverlay(regions)
	return nil
}

// FromOverlay returns copies of the overlay's regions in order and clears
// the overlay. The overlay must hold exactly expected regions.
func FromOverlay(img *rimage.Raster, expected int) (roi.Collection, error) {
	if img.Overlay == nil {
		return nil, errors.Wrapf(ErrMissingOverlay, "decoding %q", img.Title)
	}
	if n := img.Overlay.Len(); n != expected {
		return nil, errors.Wrapf(ErrCountMismatch, "%q has %d regions, expected %d", img.Title, n, expected)
	}
	regions := img.Overlay.Regions()
	img.Overlay.Clear()
	return regions, nil
}
