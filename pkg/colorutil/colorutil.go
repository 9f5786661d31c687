// Package colorutil provides the colours used to tint region masks in previews.
package colorutil

import (
	"image/color"
	"math"
)

// Common overlay colors.
var (
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Blue    = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
)

var palette = []color.RGBA{Red, Green, Blue, Magenta, Yellow, Cyan}

// MaskColor returns the tint for mask channel i. The first few are fixed;
// later ones walk the hue circle by the golden angle.
func MaskColor(i int) color.RGBA {
	if i < len(palette) {
		return palette[i]
	}
	hue := math.Mod(float64(i)*137.508, 360)
	r, g, b := HSVToRGB(hue, 1, 1)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// HSVToRGB converts hue (degrees), saturation and value (0-1) to 8-bit RGB.
func HSVToRGB(h, s, v float64) (r, g, b uint8) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var rf, gf, bf float64
	switch {
	case h < 60:
		rf, gf, bf = c, x, 0
	case h < 120:
		rf, gf, bf = x, c, 0
	case h < 180:
		rf, gf, bf = 0, c, x
	case h < 240:
		rf, gf, bf = 0, x, c
	case h < 300:
		rf, gf, bf = x, 0, c
	default:
		rf, gf, bf = c, 0, x
	}

	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return to8(rf), to8(gf), to8(bf)
}
