// Package scale computes the resolution ratio between two images from a
// matched pair of line measurements, and the direction policy that decides
// which image is resampled.
package scale

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
	"roi-transfer/pkg/geometry"
)

var (
	// ErrGeometryOutOfBounds is returned when a region's bounding box is larger than its image.
	ErrGeometryOutOfBounds = errors.New("region does not fit image")
	// ErrDirectionMismatch is returned when image sizes contradict the chosen direction.
	ErrDirectionMismatch = errors.New("image sizes do not match direction")
	// ErrDegenerateMeasurement is returned for zero-length lines or missing calibration.
	ErrDegenerateMeasurement = errors.New("degenerate measurement")
)

// Direction says which way regions travel between resolutions.
type Direction int

const (
	// Inc transfers from the smaller image to the larger (MRI to histology).
	Inc Direction = iota
	// Dec transfers from the larger image to the smaller (histology to MRI).
	Dec
)

func (d Direction) String() string {
	if d == Dec {
		return "DEC"
	}
	return "INC"
}

// ParseDirection accepts "inc" or "dec" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inc":
		return Inc, nil
	case "dec":
		return Dec, nil
	}
	return Inc, fmt.Errorf("unknown direction %q (want inc or dec)", s)
}

// CheckFits reports ErrGeometryOutOfBounds if r's bounding box is wider or
// taller than img. Equality fits.
func CheckFits(r *roi.Region, img *rimage.Raster) error {
	b := r.Bounds()
	if b.Width > float64(img.Width()) || b.Height > float64(img.Height()) {
		return errors.Wrapf(ErrGeometryOutOfBounds, "%q is %.1fx%.1f, %q is %dx%d",
			r.Name, b.Width, b.Height, img.Title, img.Width(), img.Height())
	}
	return nil
}

// Compute returns target physical length / source physical length for the two
// measurement lines. Physical length is measured per axis with the calibrated
// pixel width and height, after bringing both calibrations to one unit.
func Compute(sourceLine, targetLine *roi.Region, source, target *rimage.Raster, dir Direction) (float64, error) {
	if err := CheckFits(sourceLine, source); err != nil {
		return 0, err
	}
	if err := CheckFits(targetLine, target); err != nil {
		return 0, err
	}

	small, large := source, target
	if dir == Dec {
		small, large = target, source
	}
	if small.Width() > large.Width() || small.Height() > large.Height() {
		return 0, errors.Wrapf(ErrDirectionMismatch, "%s needs %q (%dx%d) no larger than %q (%dx%d)",
			dir, small.Title, small.Width(), small.Height(), large.Title, large.Width(), large.Height())
	}

	for _, img := range []*rimage.Raster{source, target} {
		if !img.Calibration.Valid() {
			return 0, errors.Wrapf(ErrDegenerateMeasurement, "%q has pixel size %vx%v",
				img.Title, img.Calibration.PixelWidth, img.Calibration.PixelHeight)
		}
	}

	srcCal, tgtCal := commonUnits(source.Calibration, target.Calibration)
	srcLen := physicalLength(sourceLine, srcCal)
	tgtLen := physicalLength(targetLine, tgtCal)
	if !positive(srcLen) {
		return 0, errors.Wrapf(ErrDegenerateMeasurement, "line %q on %q has length %v", sourceLine.Name, source.Title, srcLen)
	}
	if !positive(tgtLen) {
		return 0, errors.Wrapf(ErrDegenerateMeasurement, "line %q on %q has length %v", targetLine.Name, target.Title, tgtLen)
	}

	s := tgtLen / srcLen
	if !positive(s) {
		return 0, errors.Wrapf(ErrDegenerateMeasurement, "scale %v", s)
	}
	return s, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func physicalLength(line *roi.Region, c rimage.Calibration) float64 {
	return geometry.ScaledPathLength(line.Points, c.PixelWidth, c.PixelHeight)
}

// micrometres per length unit, for units found in image metadata
var unitMicrometres = map[string]float64{
	"inch":   25400,
	"cm":     1e4,
	"mm":     1e3,
	"µm":     1,
	"um":     1,
	"micron": 1,
	"nm":     1e-3,
}

// commonUnits expresses both calibrations in one length unit. Calibrations
// that cannot be compared fall back to plain pixels.
func commonUnits(a, b rimage.Calibration) (rimage.Calibration, rimage.Calibration) {
	if a.Unit == b.Unit {
		return a, b
	}
	fa, okA := unitMicrometres[a.Unit]
	fb, okB := unitMicrometres[b.Unit]
	if !okA || !okB {
		return rimage.DefaultCalibration(), rimage.DefaultCalibration()
	}
	return rimage.Calibration{PixelWidth: a.PixelWidth * fa, PixelHeight: a.PixelHeight * fa, Unit: "µm"},
		rimage.Calibration{PixelWidth: b.PixelWidth * fb, PixelHeight: b.PixelHeight * fb, Unit: "µm"}
}
