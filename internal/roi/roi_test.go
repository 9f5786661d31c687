package roi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roi-transfer/pkg/geometry"
)

func TestRegionClassification(t *testing.T) {
	line := NewLine("scale", 0, 0, 3, 4)
	assert.True(t, line.IsLine())
	assert.False(t, line.IsArea())
	assert.InDelta(t, 5.0, line.Length(), 1e-9)
	assert.Zero(t, line.Area())

	rect := NewRectangle("cortex", 10, 10, 20, 20)
	assert.False(t, rect.IsLine())
	assert.True(t, rect.IsArea())
	assert.InDelta(t, 400.0, rect.Area(), 1e-9)
	assert.InDelta(t, 80.0, rect.Length(), 1e-9)
	assert.Equal(t, geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20}, rect.Bounds())

	collapsed := &Region{Name: "gone", Kind: KindTraced}
	assert.True(t, collapsed.IsDegenerate())
	assert.False(t, collapsed.IsArea())
}

func TestRegionCloneIsDeep(t *testing.T) {
	r := NewRectangle("a", 0, 0, 5, 5)
	c := r.Clone()
	c.Points[0].X = 99
	c.Name = "b"
	assert.Equal(t, 0.0, r.Points[0].X)
	assert.Equal(t, "a", r.Name)
}

func TestCollectionTransformed(t *testing.T) {
	c := Collection{NewRectangle("a", 0, 0, 10, 10), NewLine("l", 1, 1, 2, 2)}
	scaled := c.Transformed(geometry.Scale(2, 2))
	assert.Equal(t, []string{"a", "l"}, scaled.Names())
	assert.InDelta(t, 400.0, scaled[0].Area(), 1e-9)
	assert.Equal(t, geometry.Point2D{X: 4, Y: 4}, scaled[1].Points[1])
	assert.InDelta(t, 100.0, c[0].Area(), 1e-9)
}

func TestOverlayKeepsOrder(t *testing.T) {
	src := Collection{NewRectangle("first", 0, 0, 1, 1), NewRectangle("second", 2, 2, 1, 1)}
	o := NewOverlay(src)
	src[0].Name = "mutated"

	require.Equal(t, 2, o.Len())
	assert.Equal(t, []string{"first", "second"}, o.Regions().Names())

	o.Clear()
	assert.Zero(t, o.Len())
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Add("mri", NewLine("mri-line", 0, 0, 10, 0)))
	require.NoError(t, s.Add("mri", NewRectangle("cortex", 0, 0, 20, 20)))
	assert.Error(t, s.Add("mri", NewRectangle("cortex", 1, 1, 2, 2)))

	assert.Len(t, s.Regions("mri"), 2)
	assert.Equal(t, []string{"mri-line", "cortex"}, s.Regions("mri").Names())

	require.NoError(t, s.Select("mri", "cortex"))
	assert.Equal(t, []string{"cortex"}, s.Selected("mri"))
	assert.Error(t, s.Select("mri", "missing"))

	r := s.Regions("mri")[1]
	r.Name = "changed"
	assert.Equal(t, "cortex", s.Regions("mri")[1].Name)
}

func TestFileRoundTrip(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Add("histology.tif", NewLine("h-line", 5, 5, 25, 5)))
	require.NoError(t, s.Add("histology.tif", NewRectangle("striatum", 1, 2, 3, 4)))
	require.NoError(t, s.Select("histology.tif", "striatum"))

	path := filepath.Join(t.TempDir(), "sets", "regions.roiset.json")
	require.NoError(t, s.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)

	regions := loaded.Regions("histology.tif")
	require.Len(t, regions, 2)
	assert.Equal(t, KindLine, regions[0].Kind)
	assert.Equal(t, KindPolygon, regions[1].Kind)
	assert.Equal(t, s.Regions("histology.tif")[1].Points, regions[1].Points)
	assert.Equal(t, []string{"striatum"}, loaded.Selected("histology.tif"))
}

func TestLoadFileNormalisesOutlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.roiset.json")
	doc := `{"version":1,"images":{"mri.tif":{"regions":[
		{"name":"cortex","kind":"freehand","points":[
			{"x":0,"y":0},{"x":10,"y":0},{"x":20,"y":0},{"x":20,"y":20},{"x":20,"y":20},{"x":0,"y":20},{"x":0,"y":0}]},
		{"name":"scale","kind":"line","points":[{"x":0,"y":5},{"x":5,"y":5},{"x":10,"y":5}]}
	]}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	regions := s.Regions("mri.tif")
	require.Len(t, regions, 2)

	assert.Equal(t, []geometry.Point2D{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 20}, {X: 0, Y: 20}}, regions[0].Points)
	assert.InDelta(t, 400.0, regions[0].Area(), 1e-9)
	assert.Len(t, regions[1].Points, 3, "lines keep their vertices")
}
