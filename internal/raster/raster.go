// Package raster provides a single-band grid raster with affine transform,
// CRS and nodata metadata, and a compact on-disk codec for intermediate
// analysis outputs.
package raster

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/rotisserie/eris"
)

// magic identifies the grid file format; the trailing digit is the version.
var magic = [4]byte{'G', 'R', 'D', '1'}

// Transform is a north-up affine transform mapping cell indices to world
// coordinates. PixelHeight is negative for north-up grids, matching the
// GDAL convention.
type Transform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// Grid is a single-band raster held in memory, row-major from the top-left
// cell. Nodata is an exact sentinel value, never NaN.
type Grid struct {
	Width     int
	Height    int
	Transform Transform
	CRS       string
	Nodata    float64
	Data      []float64
}

// New allocates a grid with every cell set to the nodata value.
func New(width, height int, tr Transform, crs string, nodata float64) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = nodata
	}
	return &Grid{
		Width:     width,
		Height:    height,
		Transform: tr,
		CRS:       crs,
		Nodata:    nodata,
		Data:      data,
	}
}

// At returns the value at the given row and column.
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Width+col]
}

// Set assigns the value at the given row and column.
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Width+col] = v
}

// CellCenter returns the world coordinates of a cell's center.
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	x = g.Transform.OriginX + (float64(col)+0.5)*g.Transform.PixelWidth
	y = g.Transform.OriginY + (float64(row)+0.5)*g.Transform.PixelHeight
	return x, y
}

// CellAt returns the row and column containing a world coordinate. The
// result may lie outside the grid; callers bound-check as needed.
func (g *Grid) CellAt(x, y float64) (row, col int) {
	col = int(math.Floor((x - g.Transform.OriginX) / g.Transform.PixelWidth))
	row = int(math.Floor((y - g.Transform.OriginY) / g.Transform.PixelHeight))
	return row, col
}

// PixelSize returns the linear cell size in world units.
func (g *Grid) PixelSize() float64 {
	return math.Abs(g.Transform.PixelWidth)
}

// SameGrid reports whether two grids share shape, transform and CRS, the
// precondition for cell-aligned raster algebra.
func (g *Grid) SameGrid(other *Grid) bool {
	return g.Width == other.Width &&
		g.Height == other.Height &&
		g.Transform == other.Transform &&
		g.CRS == other.CRS
}

// Range returns the minimum and maximum cell values excluding nodata.
// ok is false when every cell is nodata.
func (g *Grid) Range() (min, max float64, ok bool) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, v := range g.Data {
		if v == g.Nodata {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		ok = true
	}
	return min, max, ok
}

// Write encodes the grid to path.
func (g *Grid) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	if _, err := w.Write(magic[:]); err != nil {
		return eris.Wrap(err, "raster: write magic")
	}

	crs := []byte(g.CRS)
	header := []any{
		uint32(g.Width), uint32(g.Height),
		g.Transform.OriginX, g.Transform.OriginY,
		g.Transform.PixelWidth, g.Transform.PixelHeight,
		g.Nodata,
		uint32(len(crs)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return eris.Wrapf(err, "raster: write header %s", path)
		}
	}
	if _, err := w.Write(crs); err != nil {
		return eris.Wrapf(err, "raster: write crs %s", path)
	}
	if err := binary.Write(w, binary.LittleEndian, g.Data); err != nil {
		return eris.Wrapf(err, "raster: write data %s", path)
	}
	if err := w.Flush(); err != nil {
		return eris.Wrapf(err, "raster: flush %s", path)
	}
	return nil
}

// Read decodes a grid from path.
func Read(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, eris.Wrapf(err, "raster: read magic %s", path)
	}
	if gotMagic != magic {
		return nil, eris.Errorf("raster: %s is not a grid file", path)
	}

	var width, height, crsLen uint32
	g := &Grid{}
	fields := []any{
		&width, &height,
		&g.Transform.OriginX, &g.Transform.OriginY,
		&g.Transform.PixelWidth, &g.Transform.PixelHeight,
		&g.Nodata,
		&crsLen,
	}
	for _, v := range fields {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, eris.Wrapf(err, "raster: read header %s", path)
		}
	}
	if width == 0 || height == 0 {
		return nil, eris.Errorf("raster: %s has empty extent", path)
	}

	crs := make([]byte, crsLen)
	if _, err := io.ReadFull(r, crs); err != nil {
		return nil, eris.Wrapf(err, "raster: read crs %s", path)
	}
	g.CRS = string(crs)
	g.Width = int(width)
	g.Height = int(height)

	g.Data = make([]float64, g.Width*g.Height)
	if err := binary.Read(r, binary.LittleEndian, g.Data); err != nil {
		return nil, eris.Wrapf(err, "raster: read data %s", path)
	}
	return g, nil
}
