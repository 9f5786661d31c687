// Package image provides raster images with calibration and overlays, file
// loading, bit-depth conversion, resampling and channel packing.
package image

import (
	"fmt"
	"image"
	"math"

	"roi-transfer/internal/roi"

	"gocv.io/x/gocv"
)

// Calibration maps pixels to physical units.
type Calibration struct {
	PixelWidth  float64 // Physical width of one pixel
	PixelHeight float64 // Physical height of one pixel
	Unit        string  // Unit name, e.g. "mm", "inch"
}

// DefaultCalibration returns the uncalibrated 1 pixel = 1 pixel mapping.
func DefaultCalibration() Calibration {
	return Calibration{PixelWidth: 1, PixelHeight: 1, Unit: "pixel"}
}

// Valid reports whether the pixel sizes are finite and positive.
func (c Calibration) Valid() bool {
	return c.PixelWidth > 0 && c.PixelHeight > 0 &&
		!math.IsInf(c.PixelWidth, 0) && !math.IsInf(c.PixelHeight, 0)
}

// Scaled returns the calibration after resampling by fx horizontally and fy vertically.
func (c Calibration) Scaled(fx, fy float64) Calibration {
	return Calibration{PixelWidth: c.PixelWidth / fx, PixelHeight: c.PixelHeight / fy, Unit: c.Unit}
}

// Raster is a 2-D pixel grid held in an OpenCV Mat, with an optional region overlay.
// Samples are 8/16-bit unsigned or 32-bit float; multi-channel rasters are interleaved.
// A Raster owns its Mat and must be closed.
type Raster struct {
	Title       string
	Mat         gocv.Mat
	Calibration Calibration
	Overlay     *roi.Overlay

	closed bool
}

// NewRaster wraps mat; the raster takes ownership of it.
func NewRaster(title string, mat gocv.Mat) *Raster {
	return &Raster{
		Title:       title,
		Mat:         mat,
		Calibration: DefaultCalibration(),
	}
}

// NewGray creates a black single-channel 8-bit raster.
func NewGray(title string, width, height int) *Raster {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	return NewRaster(title, mat)
}

// Width returns the image width in pixels.
func (r *Raster) Width() int {
	return r.Mat.Cols()
}

// Height returns the image height in pixels.
func (r *Raster) Height() int {
	return r.Mat.Rows()
}

// Channels returns the number of interleaved channels.
func (r *Raster) Channels() int {
	return r.Mat.Channels()
}

// Bounds returns the pixel rectangle of the image.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width(), r.Height())
}

// BitDepth returns the number of bits per sample.
func (r *Raster) BitDepth() int {
	switch int(r.Mat.Type()) & 7 {
	case int(gocv.MatTypeCV8U), int(gocv.MatTypeCV8S):
		return 8
	case int(gocv.MatTypeCV16U), int(gocv.MatTypeCV16S):
		return 16
	case int(gocv.MatTypeCV32S), int(gocv.MatTypeCV32F):
		return 32
	default:
		return 64
	}
}

// Duplicate returns a deep copy, overlay included.
func (r *Raster) Duplicate(title string) *Raster {
	d := NewRaster(title, r.Mat.Clone())
	d.Calibration = r.Calibration
	if r.Overlay != nil {
		d.Overlay = roi.NewOverlay(r.Overlay.Regions())
	}
	return d
}

// Closed reports whether Close has been called.
func (r *Raster) Closed() bool {
	return r.closed
}

// Close releases the native pixel memory. Safe to call more than once.
func (r *Raster) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	return r.Mat.Close()
}

func (r *Raster) String() string {
	return fmt.Sprintf("%s (%dx%d, %d-bit, %d ch)", r.Title, r.Width(), r.Height(), r.BitDepth(), r.Channels())
}

// matFromBytes copies data into a new Mat that owns its memory.
func matFromBytes(rows, cols int, mt gocv.MatType, data []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, mt, data)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer view.Close()
	return view.Clone(), nil
}

// GrayFromBytes creates a single-channel 8-bit raster from row-major samples.
// The data is copied.
func GrayFromBytes(title string, width, height int, data []byte) (*Raster, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("have %d samples for %dx%d image", len(data), width, height)
	}
	mat, err := matFromBytes(height, width, gocv.MatTypeCV8UC1, data)
	if err != nil {
		return nil, err
	}
	return NewRaster(title, mat), nil
}
