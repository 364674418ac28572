package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundtrip(t *testing.T) {
	tr := Transform{OriginX: 1_570_000, OriginY: 5_180_000, PixelWidth: 25, PixelHeight: -25}
	g := New(3, 2, tr, "EPSG:2193", -9999)
	copy(g.Data, []float64{1, 2, 3, 4, 5, -9999})

	path := filepath.Join(t.TempDir(), "grid.grd")
	require.NoError(t, g.Write(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Width, got.Width)
	assert.Equal(t, g.Height, got.Height)
	assert.Equal(t, g.Transform, got.Transform)
	assert.Equal(t, g.CRS, got.CRS)
	assert.Equal(t, g.Nodata, got.Nodata)
	assert.Equal(t, g.Data, got.Data)
}

func TestReadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.grd")
	require.NoError(t, os.WriteFile(path, []byte("NOPE"), 0o644))

	_, err := Read(path)
	require.Error(t, err)
}

func TestCellGeometry(t *testing.T) {
	tr := Transform{OriginX: 0, OriginY: 100, PixelWidth: 10, PixelHeight: -10}
	g := New(4, 4, tr, "EPSG:2193", -1)

	x, y := g.CellCenter(0, 0)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 95.0, y)

	row, col := g.CellAt(25, 45)
	assert.Equal(t, 5, row)
	assert.Equal(t, 2, col)

	assert.Equal(t, 10.0, g.PixelSize())
}

func TestRangeExcludesNodata(t *testing.T) {
	g := New(2, 2, Transform{PixelWidth: 1, PixelHeight: -1}, "", -1)
	copy(g.Data, []float64{-1, 3, 7, -1})

	min, max, ok := g.Range()
	require.True(t, ok)
	assert.Equal(t, 3.0, min)
	assert.Equal(t, 7.0, max)

	empty := New(1, 1, Transform{PixelWidth: 1, PixelHeight: -1}, "", -1)
	empty.Data[0] = -1
	_, _, ok = empty.Range()
	assert.False(t, ok)
}

func TestSameGrid(t *testing.T) {
	tr := Transform{OriginX: 0, OriginY: 0, PixelWidth: 1, PixelHeight: -1}
	a := New(2, 2, tr, "EPSG:2193", -1)
	b := New(2, 2, tr, "EPSG:2193", -1)
	assert.True(t, a.SameGrid(b))

	c := New(2, 2, tr, "EPSG:4326", -1)
	assert.False(t, a.SameGrid(c))

	d := New(3, 2, tr, "EPSG:2193", -1)
	assert.False(t, a.SameGrid(d))
}
