package image

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"roi-transfer/pkg/colorutil"

	"gocv.io/x/gocv"
)

// MergeChannels interleaves single-channel rasters of equal size and depth
// into one multi-channel raster. Calibration is taken from the first input.
func MergeChannels(title string, channels []*Raster) (*Raster, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to merge")
	}
	first := channels[0]
	mats := make([]gocv.Mat, len(channels))
	for i, c := range channels {
		if c.Channels() != 1 {
			return nil, fmt.Errorf("channel %d has %d channels, want 1", i, c.Channels())
		}
		if c.Width() != first.Width() || c.Height() != first.Height() {
			return nil, fmt.Errorf("channel %d is %dx%d, want %dx%d", i, c.Width(), c.Height(), first.Width(), first.Height())
		}
		if c.Mat.Type() != first.Mat.Type() {
			return nil, fmt.Errorf("channel %d has type %v, want %v", i, c.Mat.Type(), first.Mat.Type())
		}
		mats[i] = c.Mat
	}

	dst := gocv.NewMat()
	gocv.Merge(mats, &dst)
	r := NewRaster(title, dst)
	r.Calibration = first.Calibration
	return r, nil
}

// SplitChannels returns each channel of r as its own raster. The caller
// closes the returned rasters.
func SplitChannels(r *Raster) []*Raster {
	mats := gocv.Split(r.Mat)
	out := make([]*Raster, len(mats))
	for i, m := range mats {
		out[i] = NewRaster(fmt.Sprintf("C%d-%s", i+1, r.Title), m)
		out[i].Calibration = r.Calibration
	}
	return out
}

// BlendMode specifies how a mask tint is combined with the base image.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendScreen
)

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "Normal"
	case BlendMultiply:
		return "Multiply"
	case BlendScreen:
		return "Screen"
	default:
		return "Unknown"
	}
}

// Preview renders a composite as an RGBA image: the base channel in gray
// with every other channel tinted on top. Used to show the user what the
// external tool is working on.
func Preview(composite *Raster, baseIndex int, mode BlendMode, opacity float64) (*image.RGBA, error) {
	chans := SplitChannels(composite)
	defer func() {
		for _, c := range chans {
			c.Close()
		}
	}()
	if baseIndex < 0 || baseIndex >= len(chans) {
		return nil, fmt.Errorf("base channel %d out of range (%d channels)", baseIndex, len(chans))
	}

	base, err := To8Bit(chans[baseIndex])
	if err != nil {
		return nil, err
	}
	defer base.Close()

	w, h := composite.Width(), composite.Height()
	result := image.NewRGBA(image.Rect(0, 0, w, h))
	gray := base.Mat.ToBytes()
	for i, v := range gray {
		result.Pix[i*4], result.Pix[i*4+1], result.Pix[i*4+2], result.Pix[i*4+3] = v, v, v, 255
	}

	tint := 0
	for i, c := range chans {
		if i == baseIndex {
			continue
		}
		col := colorutil.MaskColor(tint)
		tint++

		mask, err := To8Bit(c)
		if err != nil {
			return nil, err
		}
		data := mask.Mat.ToBytes()
		mask.Close()

		for p, v := range data {
			if v == 0 {
				continue
			}
			x, y := p%w, p/w
			result.SetRGBA(x, y, blend(result.RGBAAt(x, y), col, mode, opacity))
		}
	}
	return result, nil
}

// blend performs the blend operation between two colors.
func blend(dst, src color.RGBA, mode BlendMode, opacity float64) color.RGBA {
	sf := [3]float64{float64(src.R) / 255.0, float64(src.G) / 255.0, float64(src.B) / 255.0}
	df := [3]float64{float64(dst.R) / 255.0, float64(dst.G) / 255.0, float64(dst.B) / 255.0}

	var rf [3]float64
	for i := 0; i < 3; i++ {
		switch mode {
		case BlendMultiply:
			rf[i] = sf[i] * df[i]
		case BlendScreen:
			rf[i] = 1 - (1-sf[i])*(1-df[i])
		default:
			rf[i] = sf[i]
		}
	}

	alpha := clamp(opacity, 0, 1)
	out := color.RGBA{A: 255}
	out.R = uint8(math.Round(clamp(rf[0]*alpha+df[0]*(1-alpha), 0, 1) * 255))
	out.G = uint8(math.Round(clamp(rf[1]*alpha+df[1]*(1-alpha), 0, 1) * 255))
	out.B = uint8(math.Round(clamp(rf[2]*alpha+df[2]*(1-alpha), 0, 1) * 255))
	return out
}

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
