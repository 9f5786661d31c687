package image

import (
	"gocv.io/x/gocv"
)

// To8Bit returns a single-channel 8-bit copy of r. Colour images are converted
// to luminance; deeper images are linearly stretched from their min..max to 0..255.
// The input is not modified.
func To8Bit(r *Raster) (*Raster, error) {
	gray := gocv.NewMat()
	switch r.Channels() {
	case 1:
		r.Mat.CopyTo(&gray)
	case 3:
		gocv.CvtColor(r.Mat, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(r.Mat, &gray, gocv.ColorBGRAToGray)
	default:
		// Multi-channel composites keep their first channel.
		chans := gocv.Split(r.Mat)
		chans[0].CopyTo(&gray)
		closeAll(chans)
	}

	if gray.Type() == gocv.MatTypeCV8UC1 {
		return rasterLike(r, gray), nil
	}

	minVal, maxVal, _, _ := gocv.MinMaxLoc(gray)
	var alpha, beta float32
	if maxVal > minVal {
		alpha = 255 / (maxVal - minVal)
		beta = -minVal * alpha
	}

	out := gocv.NewMat()
	gray.ConvertToWithParams(&out, gocv.MatTypeCV8U, alpha, beta)
	gray.Close()
	return rasterLike(r, out), nil
}

func rasterLike(r *Raster, mat gocv.Mat) *Raster {
	out := NewRaster(r.Title, mat)
	out.Calibration = r.Calibration
	return out
}
