package image

import (
	"image"
	"math"

	"roi-transfer/pkg/geometry"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrInvalidScale is returned when a resize factor is not a positive finite
// number or would produce an empty image.
var ErrInvalidScale = errors.New("invalid scale factor")

// Resize returns a new raster whose dimensions are round(W*f) x round(H*f),
// resampled with bilinear interpolation. The overlay is scaled along and the
// calibration adjusted so physical size is preserved. The input is untouched.
func Resize(r *Raster, f float64) (*Raster, error) {
	if !(f > 0) || math.IsInf(f, 0) {
		return nil, errors.Wrapf(ErrInvalidScale, "factor %v", f)
	}

	w := int(math.Round(float64(r.Width()) * f))
	h := int(math.Round(float64(r.Height()) * f))
	if w < 1 || h < 1 {
		return nil, errors.Wrapf(ErrInvalidScale, "factor %v gives %dx%d image", f, w, h)
	}

	dst := gocv.NewMat()
	if w == r.Width() && h == r.Height() {
		r.Mat.CopyTo(&dst)
	} else {
		gocv.Resize(r.Mat, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	}

	out := NewRaster(ScaledTitle(r.Title, f), dst)

	fx := float64(w) / float64(r.Width())
	fy := float64(h) / float64(r.Height())
	out.Calibration = r.Calibration.Scaled(fx, fy)
	if r.Overlay != nil {
		out.Overlay = r.Overlay.Transformed(geometry.Scale(fx, fy))
	}
	return out, nil
}

// ScaledTitle names a resized image after its source.
func ScaledTitle(title string, f float64) string {
	switch {
	case f > 1:
		return "Scaled up " + title
	case f < 1:
		return "Scaled down " + title
	default:
		return "Scaled " + title
	}
}
