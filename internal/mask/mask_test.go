package mask

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"roi-transfer/internal/codec"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
	"roi-transfer/pkg/geometry"
)

func closeAll(rs []*rimage.Raster) {
	for _, r := range rs {
		r.Close()
	}
}

func TestRasterizeRectanglePixelCentres(t *testing.T) {
	m, err := Rasterize(roi.NewRectangle("r", 0, 0, 20, 20), 100, 100)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 400, gocv.CountNonZero(m.Mat))
	assert.Equal(t, uint8(255), m.Mat.GetUCharAt(19, 19))
	assert.Equal(t, uint8(0), m.Mat.GetUCharAt(20, 20))
}

func TestRasterizeLine(t *testing.T) {
	m, err := Rasterize(roi.NewLine("l", 10, 5, 10, 14), 32, 32)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 10, gocv.CountNonZero(m.Mat))
}

func TestRasterizeOutsideImageFails(t *testing.T) {
	_, err := Rasterize(roi.NewRectangle("far", 200, 200, 10, 10), 50, 50)
	assert.True(t, errors.Is(err, ErrMaskRasterizationFailed))

	_, err = Rasterize(&roi.Region{Name: "empty", Kind: roi.KindPolygon}, 50, 50)
	assert.True(t, errors.Is(err, ErrMaskRasterizationFailed))
}

func TestComposeLayout(t *testing.T) {
	base := rimage.NewGray("mri", 100, 100)
	defer base.Close()
	base.Mat.SetUCharAt(50, 50, 77)

	regions := roi.Collection{
		roi.NewRectangle("a", 0, 0, 20, 20),
		roi.NewRectangle("b", 60, 60, 10, 10),
	}
	comp, err := Compose(context.Background(), regions, base)
	require.NoError(t, err)
	defer comp.Close()

	assert.Equal(t, len(regions)+1, comp.Channels())
	assert.Equal(t, "Composite mri", comp.Title)

	chans := rimage.SplitChannels(comp)
	defer closeAll(chans)
	assert.Equal(t, 400, gocv.CountNonZero(chans[0].Mat))
	assert.Equal(t, uint8(77), chans[BaseChannel].Mat.GetUCharAt(50, 50))
	assert.Equal(t, 100, gocv.CountNonZero(chans[2].Mat))
}

func TestComposeConvertsDeepBase(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1000, 0, 0, 0), 30, 30, gocv.MatTypeCV16UC1)
	mat.SetShortAt(3, 3, 4000)
	base := rimage.NewRaster("deep", mat)
	defer base.Close()

	comp, err := Compose(context.Background(), roi.Collection{roi.NewRectangle("a", 0, 0, 5, 5)}, base)
	require.NoError(t, err)
	defer comp.Close()

	assert.Equal(t, 8, comp.BitDepth())
	assert.Equal(t, 2, comp.Channels())
	assert.Equal(t, 16, base.BitDepth(), "input untouched")
}

func TestComposeErrors(t *testing.T) {
	base := rimage.NewGray("mri", 10, 10)
	defer base.Close()

	_, err := Compose(context.Background(), nil, base)
	assert.True(t, errors.Is(err, ErrNoRegions))

	_, err = Compose(context.Background(), roi.Collection{roi.NewRectangle("out", 50, 50, 5, 5)}, base)
	assert.True(t, errors.Is(err, ErrMaskRasterizationFailed))
}

func TestComposeDecomposeRoundTrip(t *testing.T) {
	base := rimage.NewGray("mri", 100, 100)
	defer base.Close()

	regions := roi.Collection{
		roi.NewRectangle("cortex", 0, 0, 20, 20),
		roi.NewRectangle("striatum", 40, 30, 15, 25),
	}
	comp, err := Compose(context.Background(), regions, base)
	require.NoError(t, err)
	defer comp.Close()

	dec, err := Decompose(context.Background(), comp, regions, BaseChannel)
	require.NoError(t, err)
	defer dec.Result.Close()

	require.Len(t, dec.Regions, 2)
	assert.Empty(t, dec.Warnings)
	assert.Equal(t, []string{"cortex", "striatum"}, dec.Regions.Names())
	assert.Equal(t, roi.KindTraced, dec.Regions[0].Kind)
	assert.InDelta(t, 400.0, dec.Regions[0].Area(), 1e-9)
	assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 20, Height: 20}, dec.Regions[0].Bounds())
	assert.InDelta(t, 375.0, dec.Regions[1].Area(), 1e-9)

	assert.Equal(t, 1, dec.Result.Channels())
	got, err := codec.FromOverlay(dec.Result, 2)
	require.NoError(t, err)
	assert.Equal(t, dec.Regions, got)
}

func TestDecomposeEmptyChannelWarns(t *testing.T) {
	m0 := rimage.NewGray("m0", 10, 10)
	defer m0.Close()
	base := rimage.NewGray("base", 10, 10)
	defer base.Close()
	m1 := rimage.NewGray("m1", 10, 10)
	defer m1.Close()
	m1.Mat.SetUCharAt(2, 2, 255)

	comp, err := rimage.MergeChannels("warped", []*rimage.Raster{m0, base, m1})
	require.NoError(t, err)
	defer comp.Close()

	regions := roi.Collection{roi.NewRectangle("lost", 0, 0, 3, 3), roi.NewRectangle("kept", 2, 2, 1, 1)}
	dec, err := Decompose(context.Background(), comp, regions, BaseChannel)
	require.NoError(t, err)
	defer dec.Result.Close()

	assert.True(t, dec.Regions[0].IsDegenerate())
	assert.InDelta(t, 1.0, dec.Regions[1].Area(), 1e-9)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, 0, dec.Warnings[0].Channel)
	assert.Equal(t, "lost", dec.Warnings[0].Region)
}

func TestDecomposePaddingChannelDropped(t *testing.T) {
	m0 := rimage.NewGray("m0", 10, 10)
	defer m0.Close()
	m0.Mat.SetUCharAt(1, 1, 255)
	base := rimage.NewGray("base", 10, 10)
	defer base.Close()
	pad := rimage.NewGray("pad", 10, 10)
	defer pad.Close()

	comp, err := rimage.MergeChannels("warped", []*rimage.Raster{m0, base, pad})
	require.NoError(t, err)
	defer comp.Close()

	dec, err := Decompose(context.Background(), comp, roi.Collection{roi.NewRectangle("a", 1, 1, 1, 1)}, BaseChannel)
	require.NoError(t, err)
	defer dec.Result.Close()

	require.Len(t, dec.Regions, 1)
	require.Len(t, dec.Warnings, 1)
	assert.Equal(t, 2, dec.Warnings[0].Channel)
}

func TestDecomposeErrors(t *testing.T) {
	single := rimage.NewGray("single", 5, 5)
	defer single.Close()
	_, err := Decompose(context.Background(), single, roi.Collection{roi.NewRectangle("a", 0, 0, 1, 1)}, BaseChannel)
	assert.True(t, errors.Is(err, ErrChannelCountTooLow))

	a := rimage.NewGray("a", 5, 5)
	defer a.Close()
	b := rimage.NewGray("b", 5, 5)
	defer b.Close()
	two, err := rimage.MergeChannels("two", []*rimage.Raster{a, b})
	require.NoError(t, err)
	defer two.Close()

	regions := roi.Collection{roi.NewRectangle("a", 0, 0, 1, 1), roi.NewRectangle("b", 0, 0, 1, 1)}
	_, err = Decompose(context.Background(), two, regions, BaseChannel)
	assert.True(t, errors.Is(err, codec.ErrCountMismatch))
}

func grid(rows ...string) func(x, y int) bool {
	return func(x, y int) bool {
		return y >= 0 && y < len(rows) && x >= 0 && x < len(rows[y]) && rows[y][x] == '#'
	}
}

func TestTraceBoundaryLShape(t *testing.T) {
	inside := grid(
		"#..",
		"#..",
		"###",
	)
	pts := traceBoundary(inside, 0, 0)
	assert.Equal(t, []geometry.Point2D{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 2}, {X: 3, Y: 2}, {X: 3, Y: 3}, {X: 0, Y: 3},
	}, pts)
	assert.InDelta(t, 5.0, geometry.PolygonArea(pts), 1e-9)
}

func TestTraceBoundaryFillsHoles(t *testing.T) {
	inside := grid(
		"###",
		"#.#",
		"###",
	)
	pts := traceBoundary(inside, 0, 0)
	assert.Len(t, pts, 4)
	assert.InDelta(t, 9.0, geometry.PolygonArea(pts), 1e-9)
}

func TestTraceBoundaryDiagonalPinch(t *testing.T) {
	// (1,1) and (2,2) touch only at a corner; the gap at (1,2) stays outside
	inside := grid(
		"##...",
		"##...",
		"#.##.",
		"####.",
	)
	pts := traceBoundary(inside, 0, 0)
	assert.Len(t, pts, 10)
	assert.InDelta(t, 11.0, geometry.PolygonArea(pts), 1e-9)
}

func TestLargestComponentTieBreak(t *testing.T) {
	// labels 1 and 2 both have two pixels; 2 appears first
	labels := []int32{
		0, 2, 2,
		1, 0, 0,
		1, 0, 0,
	}
	label, first := largestComponent(labels, 3)
	assert.Equal(t, 2, label)
	assert.Equal(t, 1, first)

	labels[8] = 1
	label, first = largestComponent(labels, 3)
	assert.Equal(t, 1, label)
	assert.Equal(t, 3, first)
}

func TestTraceLargestPicksBiggestBlob(t *testing.T) {
	m := rimage.NewGray("m", 20, 20)
	defer m.Close()
	m.Mat.SetUCharAt(0, 0, 255)
	for y := 10; y < 14; y++ {
		for x := 5; x < 8; x++ {
			m.Mat.SetUCharAt(y, x, 255)
		}
	}

	pts, err := TraceLargest(m.Mat)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, geometry.PolygonArea(pts), 1e-9)
	assert.Equal(t, geometry.Rect{X: 5, Y: 10, Width: 3, Height: 4}, geometry.BoundingBox(pts))

	empty := rimage.NewGray("e", 4, 4)
	defer empty.Close()
	pts, err = TraceLargest(empty.Mat)
	require.NoError(t, err)
	assert.Nil(t, pts)
}
