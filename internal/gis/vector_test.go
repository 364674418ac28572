package gis

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
	}, []int{10})
}

func writeShapefile(t *testing.T, dir, name string, fields []shp.Field, feats []feature) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeFeatures(path, fields, feats))
	return path
}

func geomArea(t *testing.T, g geom.T) float64 {
	t.Helper()
	sg, err := geomToSF(g)
	require.NoError(t, err)
	return sg.Area()
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	fields := []shp.Field{shp.StringField("NAME", 32)}
	in := writeShapefile(t, dir, "districts.shp", fields, []feature{
		{geom: square(0, 0, 10, 10), attrs: []string{"north"}},
		{geom: square(20, 0, 30, 10), attrs: []string{"south"}},
	})

	t.Run("keeps matching features with attributes", func(t *testing.T) {
		out := filepath.Join(dir, "selected.shp")
		require.NoError(t, Select(in, out, "NAME", "north"))

		feats, outFields, err := readFeatures(out)
		require.NoError(t, err)
		require.Len(t, feats, 1)
		require.Len(t, outFields, 1)
		assert.Equal(t, "north", feats[0].attrs[0])
		assert.InDelta(t, 100.0, geomArea(t, feats[0].geom), 1e-9)
	})

	t.Run("field lookup is case-insensitive", func(t *testing.T) {
		out := filepath.Join(dir, "selected2.shp")
		require.NoError(t, Select(in, out, "name", "south"))
	})

	t.Run("missing field fails", func(t *testing.T) {
		err := Select(in, filepath.Join(dir, "out.shp"), "REGION", "north")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("no matches fails", func(t *testing.T) {
		err := Select(in, filepath.Join(dir, "out.shp"), "NAME", "east")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no features match")
	})
}

func TestBoundingBox(t *testing.T) {
	dir := t.TempDir()
	in := writeShapefile(t, dir, "in.shp", nil, []feature{
		{geom: square(0, 0, 10, 10), attrs: []string{"0"}},
		{geom: square(30, 20, 40, 50), attrs: []string{"0"}},
	})
	out := filepath.Join(dir, "box.shp")
	require.NoError(t, BoundingBox(in, out))

	feats, _, err := readFeatures(out)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	b := feats[0].geom.Bounds()
	assert.Equal(t, []float64{0, 0}, []float64{b.Min(0), b.Min(1)})
	assert.Equal(t, []float64{40, 50}, []float64{b.Max(0), b.Max(1)})
	assert.InDelta(t, 40*50, geomArea(t, feats[0].geom), 1e-9)
}

func TestClip(t *testing.T) {
	dir := t.TempDir()
	fields := []shp.Field{shp.StringField("NAME", 32)}
	in := writeShapefile(t, dir, "in.shp", fields, []feature{
		{geom: square(0, 0, 10, 10), attrs: []string{"inside"}},
		{geom: square(100, 100, 110, 110), attrs: []string{"outside"}},
	})
	boundary := writeShapefile(t, dir, "boundary.shp", nil, []feature{
		{geom: square(5, 5, 50, 50), attrs: []string{"0"}},
	})

	out := filepath.Join(dir, "clipped.shp")
	require.NoError(t, Clip(in, boundary, out))

	feats, _, err := readFeatures(out)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "inside", feats[0].attrs[0])
	assert.InDelta(t, 25.0, geomArea(t, feats[0].geom), 1e-9)
}

func TestBuffer(t *testing.T) {
	t.Run("point grows to a disc", func(t *testing.T) {
		dir := t.TempDir()
		in := writeShapefile(t, dir, "in.shp", nil, []feature{
			{geom: geom.NewPointFlat(geom.XY, []float64{50, 50}), attrs: []string{"0"}},
		})
		out := filepath.Join(dir, "buffered.shp")
		require.NoError(t, Buffer(in, out, 10))

		feats, _, err := readFeatures(out)
		require.NoError(t, err)
		require.Len(t, feats, 1)
		b := feats[0].geom.Bounds()
		assert.InDelta(t, 40, b.Min(0), 1e-6)
		assert.InDelta(t, 60, b.Max(1), 1e-6)
		// 32-gon approximation undershoots the true circle slightly.
		assert.InDelta(t, math.Pi*100, geomArea(t, feats[0].geom), math.Pi*100*0.02)
	})

	t.Run("line grows to a corridor", func(t *testing.T) {
		dir := t.TempDir()
		in := writeShapefile(t, dir, "in.shp", nil, []feature{
			{geom: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 100, 0}), attrs: []string{"0"}},
		})
		out := filepath.Join(dir, "buffered.shp")
		require.NoError(t, Buffer(in, out, 5))

		feats, _, err := readFeatures(out)
		require.NoError(t, err)
		require.Len(t, feats, 1)
		b := feats[0].geom.Bounds()
		assert.InDelta(t, -5, b.Min(0), 1e-6)
		assert.InDelta(t, 105, b.Max(0), 1e-6)
		assert.InDelta(t, -5, b.Min(1), 1e-6)
		assert.InDelta(t, 5, b.Max(1), 1e-6)
	})

	t.Run("negative distance shrinks polygons", func(t *testing.T) {
		dir := t.TempDir()
		in := writeShapefile(t, dir, "in.shp", nil, []feature{
			{geom: square(0, 0, 100, 100), attrs: []string{"0"}},
		})
		out := filepath.Join(dir, "buffered.shp")
		require.NoError(t, Buffer(in, out, -10))

		feats, _, err := readFeatures(out)
		require.NoError(t, err)
		require.Len(t, feats, 1)
		got := geomArea(t, feats[0].geom)
		assert.Less(t, got, 100.0*100.0)
		assert.Greater(t, got, 0.0)
	})
}

func TestUnion(t *testing.T) {
	dir := t.TempDir()
	a := writeShapefile(t, dir, "a.shp", nil, []feature{
		{geom: square(0, 0, 10, 10), attrs: []string{"0"}},
	})
	b := writeShapefile(t, dir, "b.shp", nil, []feature{
		{geom: square(5, 0, 15, 10), attrs: []string{"0"}},
	})

	out := filepath.Join(dir, "union.shp")
	require.NoError(t, Union([]string{a, b}, out))

	feats, _, err := readFeatures(out)
	require.NoError(t, err)
	require.NotEmpty(t, feats)
	var area float64
	for _, f := range feats {
		area += geomArea(t, f.geom)
	}
	assert.InDelta(t, 150.0, area, 1e-9)
}

func TestRasterizePolygon(t *testing.T) {
	dir := t.TempDir()
	// 4x4 template, 10m pixels, origin at the top-left; the polygon covers
	// the top-left 2x2 block of cell centers.
	templateData := make([]float64, 16)
	template := writeGrid(t, dir, "template.grd", 4, 4, 10, -999, templateData)
	vec := writeShapefile(t, dir, "features.shp", nil, []feature{
		{geom: square(0, 80, 20, 100), attrs: []string{"0"}},
	})

	t.Run("zero background", func(t *testing.T) {
		out := filepath.Join(dir, "binary.grd")
		require.NoError(t, RasterizePolygon(vec, out, template, false))

		got := readGrid(t, out)
		assert.Equal(t, 4, got.Width)
		assert.Equal(t, float64(1), got.At(0, 0))
		assert.Equal(t, float64(1), got.At(1, 1))
		assert.Equal(t, float64(0), got.At(0, 2))
		assert.Equal(t, float64(0), got.At(2, 0))
	})

	t.Run("nodata background", func(t *testing.T) {
		out := filepath.Join(dir, "binary.grd")
		require.NoError(t, RasterizePolygon(vec, out, template, true))

		got := readGrid(t, out)
		assert.Equal(t, float64(1), got.At(0, 0))
		assert.Equal(t, float64(-999), got.At(2, 2))
	})

	t.Run("template nodata wins over burned cells", func(t *testing.T) {
		holed := make([]float64, 16)
		holed[0] = -999
		templateHoled := writeGrid(t, dir, "template2.grd", 4, 4, 10, -999, holed)

		out := filepath.Join(dir, "binary2.grd")
		require.NoError(t, RasterizePolygon(vec, out, templateHoled, false))

		got := readGrid(t, out)
		assert.Equal(t, float64(-999), got.At(0, 0))
		assert.Equal(t, float64(1), got.At(0, 1))
	})
}

func TestClipRaster(t *testing.T) {
	dir := t.TempDir()
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	src := writeGrid(t, dir, "src.grd", 4, 4, 10, -999, data)
	boundary := writeShapefile(t, dir, "boundary.shp", nil, []feature{
		{geom: square(0, 80, 20, 100), attrs: []string{"0"}},
	})

	out := filepath.Join(dir, "clipped.grd")
	require.NoError(t, ClipRaster(src, boundary, out))

	got := readGrid(t, out)
	assert.LessOrEqual(t, got.Width, 3)
	assert.LessOrEqual(t, got.Height, 3)
	assert.Equal(t, float64(0), got.At(0, 0))
	assert.Equal(t, float64(5), got.At(1, 1))
	// Cells whose centers fall outside the boundary are nodata.
	assert.Equal(t, float64(-999), got.At(got.Height-1, got.Width-1))
	assert.Equal(t, 0.0, got.Transform.OriginX)
	assert.Equal(t, 100.0, got.Transform.OriginY)
}
