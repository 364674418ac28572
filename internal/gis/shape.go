// Package gis implements the primitive geometric and raster transforms the
// suitability engine is built from. Every operation is a pure function over
// file paths: shapefiles for vector layers, grid files for rasters.
package gis

import (
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// shapeToGeom converts a go-shp shape to a go-geom geometry.
// Returns nil for unsupported or empty shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon((*shp.PolyLine)(s))
	default:
		return nil
	}
}

// polyLineToMultiLineString converts a shapefile PolyLine to a geom.MultiLineString.
func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i := int32(0); i < pl.NumParts; i++ {
		start, end := partRange(pl.Parts, len(pl.Points), i, pl.NumParts)
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, pl.Points[j].X, pl.Points[j].Y)
		}
		if len(flat) < 4 {
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flat)); err != nil {
			continue
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Every part becomes its own single-ring polygon; hole association is left
// to the boolean-op layer, which normalizes overlapping rings.
func polygonToMultiPolygon(p *shp.PolyLine) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start, end := partRange(p.Parts, len(p.Points), i, p.NumParts)
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if len(flat) < 8 {
			continue
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func partRange(parts []int32, numPoints int, i, numParts int32) (int, int) {
	start := int(parts[i])
	end := numPoints
	if i+1 < numParts {
		end = int(parts[i+1])
	}
	return start, end
}

// geomToSF bridges a go-geom geometry into simplefeatures via WKB.
func geomToSF(g geom.T) (sf.Geometry, error) {
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "gis: marshal wkb")
	}
	sfg, err := sf.UnmarshalWKB(data)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "gis: unmarshal wkb")
	}
	return sfg, nil
}

// sfToGeom bridges a simplefeatures geometry back into go-geom via WKB.
func sfToGeom(g sf.Geometry) (geom.T, error) {
	t, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return nil, eris.Wrap(err, "gis: unmarshal wkb")
	}
	return t, nil
}

// geomToShapes converts a go-geom geometry into go-shp shapes for writing.
// Collections flatten to one shape per member.
func geomToShapes(g geom.T) []shp.Shape {
	switch t := g.(type) {
	case *geom.Point:
		return []shp.Shape{&shp.Point{X: t.X(), Y: t.Y()}}
	case *geom.MultiPoint:
		shapes := make([]shp.Shape, 0, t.NumPoints())
		for i := 0; i < t.NumPoints(); i++ {
			shapes = append(shapes, geomToShapes(t.Point(i))...)
		}
		return shapes
	case *geom.LineString:
		return []shp.Shape{linesToShape([][]geom.Coord{t.Coords()})}
	case *geom.MultiLineString:
		lines := make([][]geom.Coord, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			lines = append(lines, t.LineString(i).Coords())
		}
		if len(lines) == 0 {
			return nil
		}
		return []shp.Shape{linesToShape(lines)}
	case *geom.Polygon:
		return []shp.Shape{ringsToShape(t.Coords())}
	case *geom.MultiPolygon:
		rings := make([][]geom.Coord, 0)
		for i := 0; i < t.NumPolygons(); i++ {
			rings = append(rings, t.Polygon(i).Coords()...)
		}
		if len(rings) == 0 {
			return nil
		}
		return []shp.Shape{ringsToShape(rings)}
	case *geom.GeometryCollection:
		var shapes []shp.Shape
		for i := 0; i < t.NumGeoms(); i++ {
			shapes = append(shapes, geomToShapes(t.Geom(i))...)
		}
		return shapes
	default:
		return nil
	}
}

// linesToShape builds a PolyLine shape from coordinate parts.
func linesToShape(parts [][]geom.Coord) *shp.PolyLine {
	pl := &shp.PolyLine{}
	for _, part := range parts {
		pl.Parts = append(pl.Parts, int32(len(pl.Points)))
		for _, c := range part {
			pl.Points = append(pl.Points, shp.Point{X: c[0], Y: c[1]})
		}
	}
	pl.NumParts = int32(len(pl.Parts))
	pl.NumPoints = int32(len(pl.Points))
	pl.Box = pointsBox(pl.Points)
	return pl
}

// ringsToShape builds a Polygon shape from ring coordinate parts, closing
// any open rings.
func ringsToShape(rings [][]geom.Coord) *shp.Polygon {
	p := &shp.Polygon{}
	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		if ring[0][0] != ring[len(ring)-1][0] || ring[0][1] != ring[len(ring)-1][1] {
			ring = append(ring, ring[0])
		}
		p.Parts = append(p.Parts, int32(len(p.Points)))
		for _, c := range ring {
			p.Points = append(p.Points, shp.Point{X: c[0], Y: c[1]})
		}
	}
	p.NumParts = int32(len(p.Parts))
	p.NumPoints = int32(len(p.Points))
	p.Box = pointsBox(p.Points)
	return p
}

func pointsBox(points []shp.Point) shp.Box {
	box := shp.Box{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, pt := range points {
		box.MinX = math.Min(box.MinX, pt.X)
		box.MinY = math.Min(box.MinY, pt.Y)
		box.MaxX = math.Max(box.MaxX, pt.X)
		box.MaxY = math.Max(box.MaxY, pt.Y)
	}
	return box
}

// shapeTypeOf picks the shapefile type constant for a geometry.
func shapeTypeOf(g geom.T) shp.ShapeType {
	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return shp.POINT
	case *geom.LineString, *geom.MultiLineString:
		return shp.POLYLINE
	default:
		return shp.POLYGON
	}
}

// fieldIndex builds a lowercase attribute name -> index map for a reader.
func fieldIndex(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[strings.ToLower(name)] = i
	}
	return idx
}

// cleanAttr trims shapefile attribute padding.
func cleanAttr(v string) string {
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}
