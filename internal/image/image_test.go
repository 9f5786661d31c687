package image

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"roi-transfer/internal/roi"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func gray16(t *testing.T, w, h int, fill func(x, y int) uint16) *Raster {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: fill(x, y)})
		}
	}
	mat, err := FromImage(img)
	require.NoError(t, err)
	return NewRaster("deep", mat)
}

func TestResizeScalesOverlayAndCalibration(t *testing.T) {
	r := NewGray("mri.tif", 100, 50)
	defer r.Close()
	r.Calibration = Calibration{PixelWidth: 0.5, PixelHeight: 0.5, Unit: "mm"}
	r.Overlay = roi.NewOverlay(roi.Collection{roi.NewRectangle("a", 10, 10, 20, 20)})

	up, err := Resize(r, 2)
	require.NoError(t, err)
	defer up.Close()

	assert.Equal(t, 200, up.Width())
	assert.Equal(t, 100, up.Height())
	assert.Equal(t, "Scaled up mri.tif", up.Title)
	assert.InDelta(t, 0.25, up.Calibration.PixelWidth, 1e-12)
	assert.Equal(t, "mm", up.Calibration.Unit)
	require.Equal(t, 1, up.Overlay.Len())
	assert.InDelta(t, 1600.0, up.Overlay.Regions()[0].Area(), 1e-9)

	// source untouched
	assert.Equal(t, 100, r.Width())
	assert.InDelta(t, 400.0, r.Overlay.Regions()[0].Area(), 1e-9)

	down, err := Resize(r, 0.5)
	require.NoError(t, err)
	defer down.Close()
	assert.Equal(t, "Scaled down mri.tif", down.Title)
	assert.Equal(t, 50, down.Width())
	assert.Equal(t, 25, down.Height())
}

func TestResizeIdentityTitle(t *testing.T) {
	r := NewGray("x", 10, 10)
	defer r.Close()
	same, err := Resize(r, 1)
	require.NoError(t, err)
	defer same.Close()
	assert.Equal(t, "Scaled x", same.Title)
	assert.Equal(t, 10, same.Width())
}

func TestResizeRejectsBadFactors(t *testing.T) {
	r := NewGray("x", 10, 10)
	defer r.Close()
	for _, f := range []float64{0, -1, 0.01} {
		_, err := Resize(r, f)
		assert.True(t, errors.Is(err, ErrInvalidScale), "factor %v", f)
	}
}

func TestTo8BitStretchesRange(t *testing.T) {
	r := gray16(t, 4, 1, func(x, _ int) uint16 { return uint16(1000 + x*1000) })
	defer r.Close()
	assert.Equal(t, 16, r.BitDepth())

	out, err := To8Bit(r)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 8, out.BitDepth())
	assert.Equal(t, 1, out.Channels())
	data := out.Mat.ToBytes()
	assert.Equal(t, uint8(0), data[0])
	assert.Equal(t, uint8(255), data[3])
	assert.Equal(t, 16, r.BitDepth())
}

func TestTo8BitColour(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 3, 3, gocv.MatTypeCV8UC3)
	r := NewRaster("rgb", mat)
	defer r.Close()

	out, err := To8Bit(r)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 1, out.Channels())
	assert.Equal(t, uint8(100), out.Mat.GetUCharAt(1, 1))
}

func TestMergeSplitRoundTrip(t *testing.T) {
	a := NewGray("a", 8, 4)
	defer a.Close()
	b := NewGray("b", 8, 4)
	defer b.Close()
	b.Mat.SetUCharAt(2, 3, 200)

	merged, err := MergeChannels("merged", []*Raster{a, b})
	require.NoError(t, err)
	defer merged.Close()
	assert.Equal(t, 2, merged.Channels())

	parts := SplitChannels(merged)
	require.Len(t, parts, 2)
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()
	assert.Equal(t, uint8(200), parts[1].Mat.GetUCharAt(2, 3))
	assert.Equal(t, uint8(0), parts[0].Mat.GetUCharAt(2, 3))
}

func TestMergeRejectsMismatchedSizes(t *testing.T) {
	a := NewGray("a", 8, 4)
	defer a.Close()
	b := NewGray("b", 4, 4)
	defer b.Close()
	_, err := MergeChannels("m", []*Raster{a, b})
	assert.Error(t, err)
}

func TestSaveLoadTwoChannelPads(t *testing.T) {
	a := NewGray("a", 5, 5)
	defer a.Close()
	b := NewGray("b", 5, 5)
	defer b.Close()
	a.Mat.SetUCharAt(0, 0, 255)
	b.Mat.SetUCharAt(4, 4, 128)

	merged, err := MergeChannels("m", []*Raster{a, b})
	require.NoError(t, err)
	defer merged.Close()

	path := filepath.Join(t.TempDir(), "out", "composite.png")
	require.NoError(t, Save(path, merged))

	loaded, err := Load(path)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, "composite.png", loaded.Title)
	require.Equal(t, 3, loaded.Channels())

	parts := SplitChannels(loaded)
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()
	assert.Equal(t, uint8(255), parts[0].Mat.GetUCharAt(0, 0))
	assert.Equal(t, uint8(128), parts[1].Mat.GetUCharAt(4, 4))
	assert.Equal(t, 0, gocv.CountNonZero(parts[2].Mat))
}

func TestSaveLoadGray16(t *testing.T) {
	r := gray16(t, 3, 2, func(x, y int) uint16 { return uint16(x*300 + y) })
	defer r.Close()

	path := filepath.Join(t.TempDir(), "deep.tif")
	require.NoError(t, Save(path, r))

	loaded, err := Load(path)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, 16, loaded.BitDepth())
	assert.Equal(t, r.Mat.ToBytes(), loaded.Mat.ToBytes())
}

type tiffEntry struct {
	tag, typ     uint16
	count, value uint32
}

// calibratedTIFF builds a little-endian 2x2 8-bit gray TIFF carrying
// resolution tags and an image description.
func calibratedTIFF(t *testing.T, xRes, yRes [2]uint32, unit uint16, description string) []byte {
	t.Helper()
	const w, h = 2, 2
	desc := append([]byte(description), 0)
	require.Greater(t, len(desc), 4, "description must not fit inline")

	entries := []tiffEntry{
		{256, 3, 1, w},
		{257, 3, 1, h},
		{258, 3, 1, 8},
		{259, 3, 1, 1},
		{262, 3, 1, 1},
		{270, 2, uint32(len(desc)), 0},
		{273, 4, 1, 0},
		{277, 3, 1, 1},
		{278, 3, 1, h},
		{279, 4, 1, w * h},
		{282, 5, 1, 0},
		{283, 5, 1, 0},
		{296, 3, 1, uint32(unit)},
	}
	xOff := uint32(8 + 2 + len(entries)*12 + 4)
	yOff := xOff + 8
	descOff := yOff + 8
	pixOff := descOff + uint32(len(desc))
	for i := range entries {
		switch entries[i].tag {
		case 270:
			entries[i].value = descOff
		case 273:
			entries[i].value = pixOff
		case 282:
			entries[i].value = xOff
		case 283:
			entries[i].value = yOff
		}
	}

	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.WriteString("II")
	for _, v := range []interface{}{uint16(42), uint32(8), uint16(len(entries))} {
		require.NoError(t, binary.Write(&buf, le, v))
	}
	for _, e := range entries {
		for _, v := range []interface{}{e.tag, e.typ, e.count, e.value} {
			require.NoError(t, binary.Write(&buf, le, v))
		}
	}
	for _, v := range []uint32{0, xRes[0], xRes[1], yRes[0], yRes[1]} {
		require.NoError(t, binary.Write(&buf, le, v))
	}
	buf.Write(desc)
	require.Equal(t, int(pixOff), buf.Len())
	buf.Write([]byte{0, 64, 128, 255})
	return buf.Bytes()
}

func TestLoadReadsTIFFResolution(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "histology.tif")
	require.NoError(t, os.WriteFile(path, calibratedTIFF(t, [2]uint32{2, 1}, [2]uint32{8, 2}, 3, "scanner export"), 0o644))
	r, err := Load(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Width())
	assert.Equal(t, uint8(255), r.Mat.GetUCharAt(1, 1))
	assert.InDelta(t, 0.5, r.Calibration.PixelWidth, 1e-12)
	assert.InDelta(t, 0.25, r.Calibration.PixelHeight, 1e-12)
	assert.Equal(t, "cm", r.Calibration.Unit)

	// ResolutionUnit none: the unit comes from the ImageJ description
	path = filepath.Join(dir, "mri.tif")
	require.NoError(t, os.WriteFile(path, calibratedTIFF(t, [2]uint32{10, 1}, [2]uint32{10, 1}, 1, "ImageJ=1.54f\nunit=micron\n"), 0o644))
	r2, err := Load(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.InDelta(t, 0.1, r2.Calibration.PixelWidth, 1e-12)
	assert.InDelta(t, 0.1, r2.Calibration.PixelHeight, 1e-12)
	assert.Equal(t, "µm", r2.Calibration.Unit)

	// no unit anywhere: stays uncalibrated
	path = filepath.Join(dir, "bare.tif")
	require.NoError(t, os.WriteFile(path, calibratedTIFF(t, [2]uint32{10, 1}, [2]uint32{10, 1}, 1, "no metadata"), 0o644))
	r3, err := Load(path)
	require.NoError(t, err)
	defer r3.Close()
	assert.Equal(t, DefaultCalibration(), r3.Calibration)
}

func TestDescriptionUnit(t *testing.T) {
	assert.Equal(t, "mm", descriptionUnit("ImageJ=1.54f\nunit=mm\nspacing=1"))
	assert.Equal(t, "µm", descriptionUnit("unit=micron"))
	assert.Equal(t, "", descriptionUnit("ImageJ=1.54f"))
}

func TestPreviewTintsMasks(t *testing.T) {
	mask := NewGray("mask", 4, 4)
	defer mask.Close()
	base := NewGray("base", 4, 4)
	defer base.Close()
	mask.Mat.SetUCharAt(1, 1, 255)

	comp, err := MergeChannels("comp", []*Raster{mask, base})
	require.NoError(t, err)
	defer comp.Close()

	img, err := Preview(comp, 1, BlendNormal, 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(0, 0))
}
