package gis

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/siteselect-cli/internal/raster"
)

// Nodata sentinels carried through the raster pipeline.
const (
	// DistanceNodata marks cells excluded from distance accumulation.
	DistanceNodata = -9999
	// ReclassifyNodata marks nodata in reclassified score rasters.
	ReclassifyNodata = 255
	// ScoredNodata marks nodata in combined and masked suitability rasters.
	ScoredNodata = 255
)

// ReclassRule remaps cells whose value falls in the half-open interval
// [Low, High) to Value.
type ReclassRule struct {
	Low   float64
	High  float64
	Value int
}

// WeightedInput pairs a score raster path with its combination weight.
type WeightedInput struct {
	Path   string
	Weight float64
}

// ClipRaster crops a raster to the boundary layer's extent and masks cells
// outside the boundary to nodata, preserving the source nodata value.
func ClipRaster(inputPath, boundaryPath, outputPath string) error {
	src, err := raster.Read(inputPath)
	if err != nil {
		return err
	}
	boundaryFeatures, _, err := readFeatures(boundaryPath)
	if err != nil {
		return err
	}
	if len(boundaryFeatures) == 0 {
		return eris.Errorf("gis: empty boundary layer %s", boundaryPath)
	}

	// Crop window from the boundary bounds, clamped to the source extent.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, feat := range boundaryFeatures {
		b := feat.geom.Bounds()
		minX = math.Min(minX, b.Min(0))
		minY = math.Min(minY, b.Min(1))
		maxX = math.Max(maxX, b.Max(0))
		maxY = math.Max(maxY, b.Max(1))
	}
	rowTop, colLeft := src.CellAt(minX, maxY)
	rowBottom, colRight := src.CellAt(maxX, minY)
	rowTop = clamp(rowTop, 0, src.Height-1)
	rowBottom = clamp(rowBottom, 0, src.Height-1)
	colLeft = clamp(colLeft, 0, src.Width-1)
	colRight = clamp(colRight, 0, src.Width-1)

	width := colRight - colLeft + 1
	height := rowBottom - rowTop + 1
	tr := src.Transform
	tr.OriginX += float64(colLeft) * tr.PixelWidth
	tr.OriginY += float64(rowTop) * tr.PixelHeight
	out := raster.New(width, height, tr, src.CRS, src.Nodata)

	// Burn the boundary interior, then copy source cells inside it.
	mask := raster.New(width, height, tr, src.CRS, 0)
	for _, feat := range boundaryFeatures {
		burnGeometry(mask, feat.geom, 1)
	}
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			if mask.At(row, col) == 1 {
				out.Set(row, col, src.At(rowTop+row, colLeft+col))
			}
		}
	}
	return out.Write(outputPath)
}

// RasterizePolygon burns the features of a vector layer as value 1 onto a
// grid aligned exactly to the template raster. Background cells hold 0, or
// nodata when nodataBackground is set. Cells that are nodata in the
// template are forced to nodata in the output.
func RasterizePolygon(vectorPath, outputPath, templatePath string, nodataBackground bool) error {
	template, err := raster.Read(templatePath)
	if err != nil {
		return err
	}
	features, _, err := readFeatures(vectorPath)
	if err != nil {
		return err
	}

	background := 0.0
	if nodataBackground {
		background = template.Nodata
	}
	out := raster.New(template.Width, template.Height, template.Transform, template.CRS, template.Nodata)
	for i := range out.Data {
		out.Data[i] = background
	}
	for _, feat := range features {
		burnGeometry(out, feat.geom, 1)
	}
	// Alignment invariant: template nodata wins over burned values.
	for i, v := range template.Data {
		if v == template.Nodata {
			out.Data[i] = out.Nodata
		}
	}
	return out.Write(outputPath)
}

// DistanceTransform computes, for every cell, the Euclidean distance in
// real-world units to the nearest cell valued 1 in a binary raster. Cells
// that are nodata in the input become the DistanceNodata sentinel.
func DistanceTransform(inputPath, outputPath string) error {
	src, err := raster.Read(inputPath)
	if err != nil {
		return err
	}

	const inf = math.MaxFloat64
	sq := make([]float64, len(src.Data))
	targets := 0
	for i, v := range src.Data {
		if v == 1 {
			sq[i] = 0
			targets++
		} else {
			sq[i] = inf
		}
	}
	squaredDistances(sq, src.Width, src.Height)

	// With no target cells anywhere, every distance would be unbounded;
	// clamp to the grid diagonal so downstream reclassification still sees
	// finite values.
	maxDist := math.Hypot(float64(src.Width), float64(src.Height)) * src.PixelSize()

	out := raster.New(src.Width, src.Height, src.Transform, src.CRS, DistanceNodata)
	for i, v := range src.Data {
		if v == src.Nodata {
			continue
		}
		d := math.Sqrt(sq[i]) * src.PixelSize()
		if targets == 0 || d > maxDist {
			d = maxDist
		}
		out.Data[i] = d
	}
	return out.Write(outputPath)
}

// squaredDistances runs the two-pass Felzenszwalb-Huttenlocher transform
// over a row-major grid of squared distances in cell units.
func squaredDistances(grid []float64, width, height int) {
	buf := make([]float64, maxInt(width, height))
	v := make([]int, maxInt(width, height))
	z := make([]float64, maxInt(width, height)+1)

	// Columns.
	col := make([]float64, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = grid[y*width+x]
		}
		edt1d(col, buf[:height], v[:height], z[:height+1])
		for y := 0; y < height; y++ {
			grid[y*width+x] = buf[y]
		}
	}
	// Rows.
	for y := 0; y < height; y++ {
		row := grid[y*width : (y+1)*width]
		edt1d(row, buf[:width], v[:width], z[:width+1])
		copy(row, buf[:width])
	}
}

// edt1d computes the 1D squared-distance transform of f into d using the
// lower-envelope-of-parabolas method.
func edt1d(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		var s float64
		for {
			p := v[k]
			s = ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
			if s > z[k] {
				break
			}
			k--
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// Reclassify remaps every non-nodata cell through half-open interval rules.
// It fails when the rules are malformed or when any cell value escapes the
// union of the rule intervals, rather than silently dropping such cells.
func Reclassify(inputPath, outputPath string, rules []ReclassRule) error {
	if len(rules) == 0 {
		return eris.New("gis: reclassify requires at least one rule")
	}
	for _, r := range rules {
		if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 1) || r.Low >= r.High {
			return eris.Errorf("gis: invalid reclassify rule [%v, %v)", r.Low, r.High)
		}
	}
	sorted := make([]ReclassRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })

	src, err := raster.Read(inputPath)
	if err != nil {
		return err
	}
	if dataMin, dataMax, ok := src.Range(); ok {
		zap.L().Debug("gis: reclassify input range",
			zap.String("path", inputPath),
			zap.Float64("min", dataMin),
			zap.Float64("max", dataMax),
		)
	}

	out := raster.New(src.Width, src.Height, src.Transform, src.CRS, ReclassifyNodata)
	for i, val := range src.Data {
		if val == src.Nodata {
			continue
		}
		matched := false
		for _, r := range sorted {
			if val >= r.Low && val < r.High {
				out.Data[i] = float64(r.Value)
				matched = true
				break
			}
		}
		if !matched {
			return eris.Errorf("gis: remap range does not cover the data range (value %v in %s)", val, inputPath)
		}
	}
	return out.Write(outputPath)
}

// WeightedCombine computes the per-cell weighted sum of aligned score
// rasters with weights normalized to sum to 1. A cell that is nodata in any
// input is nodata in the output.
func WeightedCombine(inputs []WeightedInput, outputPath string) error {
	if len(inputs) == 0 {
		return eris.New("gis: combine requires at least one input")
	}

	var sum float64
	for _, in := range inputs {
		sum += in.Weight
	}
	if sum <= 0 {
		return eris.Errorf("gis: combine weights sum to %v", sum)
	}

	grids := make([]*raster.Grid, len(inputs))
	for i, in := range inputs {
		g, err := raster.Read(in.Path)
		if err != nil {
			return err
		}
		if i > 0 && !g.SameGrid(grids[0]) {
			return eris.Errorf("gis: combine input %s is not aligned with %s", in.Path, inputs[0].Path)
		}
		grids[i] = g
	}

	first := grids[0]
	out := raster.New(first.Width, first.Height, first.Transform, first.CRS, ScoredNodata)
cells:
	for i := range first.Data {
		acc := 0.0
		for j, g := range grids {
			v := g.Data[i]
			if v == g.Nodata {
				continue cells
			}
			acc += v * inputs[j].Weight / sum
		}
		out.Data[i] = acc
	}
	return out.Write(outputPath)
}

// ApplyMask sets every cell of the value raster to nodata where the mask
// raster equals 1. The rasters must share grid shape and CRS.
func ApplyMask(valuePath, maskPath, outputPath string) error {
	value, err := raster.Read(valuePath)
	if err != nil {
		return err
	}
	mask, err := raster.Read(maskPath)
	if err != nil {
		return err
	}
	if value.Width != mask.Width || value.Height != mask.Height {
		return eris.Errorf("gis: input rasters must have the same shape (%dx%d vs %dx%d)",
			value.Width, value.Height, mask.Width, mask.Height)
	}
	if value.CRS != mask.CRS {
		return eris.Errorf("gis: input rasters must have the same CRS (%s vs %s)", value.CRS, mask.CRS)
	}

	out := raster.New(value.Width, value.Height, value.Transform, value.CRS, ScoredNodata)
	for i, v := range value.Data {
		if v == value.Nodata || mask.Data[i] == 1 {
			continue
		}
		out.Data[i] = v
	}
	return out.Write(outputPath)
}

// burnGeometry marks the grid cells covered by a geometry with value.
// Polygon interiors fill by even-odd scanline; lines mark every cell they
// pass through; points mark their containing cell.
func burnGeometry(g *raster.Grid, t geom.T, value float64) {
	switch s := t.(type) {
	case *geom.Point:
		burnPoint(g, s.X(), s.Y(), value)
	case *geom.MultiPoint:
		for i := 0; i < s.NumPoints(); i++ {
			burnGeometry(g, s.Point(i), value)
		}
	case *geom.LineString:
		burnLine(g, s.Coords(), value)
	case *geom.MultiLineString:
		for i := 0; i < s.NumLineStrings(); i++ {
			burnLine(g, s.LineString(i).Coords(), value)
		}
	case *geom.Polygon:
		burnRings(g, s.Coords(), value)
	case *geom.MultiPolygon:
		for i := 0; i < s.NumPolygons(); i++ {
			burnRings(g, s.Polygon(i).Coords(), value)
		}
	case *geom.GeometryCollection:
		for i := 0; i < s.NumGeoms(); i++ {
			burnGeometry(g, s.Geom(i), value)
		}
	}
}

// burnRings scanline-fills polygon rings with even-odd parity, which
// handles holes without explicit ring classification.
func burnRings(g *raster.Grid, rings [][]geom.Coord, value float64) {
	for row := 0; row < g.Height; row++ {
		_, y := g.CellCenter(row, 0)

		var crossings []float64
		for _, ring := range rings {
			for i := 1; i < len(ring); i++ {
				y1, y2 := ring[i-1][1], ring[i][1]
				if (y1 <= y && y2 > y) || (y2 <= y && y1 > y) {
					x1, x2 := ring[i-1][0], ring[i][0]
					crossings = append(crossings, x1+(y-y1)*(x2-x1)/(y2-y1))
				}
			}
		}
		if len(crossings) < 2 {
			continue
		}
		sort.Float64s(crossings)
		for i := 1; i < len(crossings); i += 2 {
			_, colStart := g.CellAt(crossings[i-1], y)
			_, colEnd := g.CellAt(crossings[i], y)
			for col := clamp(colStart, 0, g.Width-1); col <= clamp(colEnd, 0, g.Width-1); col++ {
				x, _ := g.CellCenter(row, col)
				if x >= crossings[i-1] && x < crossings[i] {
					g.Set(row, col, value)
				}
			}
		}
	}
}

// burnLine marks cells along each segment by sub-pixel sampling.
func burnLine(g *raster.Grid, coords []geom.Coord, value float64) {
	step := g.PixelSize() / 2
	for i := 1; i < len(coords); i++ {
		x1, y1 := coords[i-1][0], coords[i-1][1]
		x2, y2 := coords[i][0], coords[i][1]
		length := math.Hypot(x2-x1, y2-y1)
		steps := int(length/step) + 1
		for s := 0; s <= steps; s++ {
			f := float64(s) / float64(steps)
			burnPoint(g, x1+f*(x2-x1), y1+f*(y2-y1), value)
		}
	}
}

func burnPoint(g *raster.Grid, x, y float64, value float64) {
	row, col := g.CellAt(x, y)
	if row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return
	}
	g.Set(row, col, value)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
