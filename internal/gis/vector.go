package gis

import (
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// circleSegments controls how finely buffer arcs are approximated.
const circleSegments = 32

// feature pairs a geometry with its attribute row.
type feature struct {
	geom  geom.T
	attrs []string
}

// readFeatures loads all features of a shapefile. Records with unsupported
// or empty geometry are skipped.
func readFeatures(path string) ([]feature, []shp.Field, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "gis: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	var features []feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}
		attrs := make([]string, len(fields))
		for i := range fields {
			attrs[i] = cleanAttr(reader.Attribute(i))
		}
		features = append(features, feature{geom: g, attrs: attrs})
	}
	if skipped > 0 {
		zap.L().Debug("gis: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return features, fields, nil
}

// writeFeatures writes features to a shapefile, preserving the given
// attribute schema. The shape type is derived from the first geometry.
func writeFeatures(path string, fields []shp.Field, features []feature) error {
	var shapeType shp.ShapeType = shp.POLYGON
	if len(features) > 0 {
		shapeType = shapeTypeOf(features[0].geom)
	}
	if len(fields) == 0 {
		fields = []shp.Field{shp.NumberField("FID", 11)}
	}

	writer, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "gis: create shapefile %s", path)
	}
	defer writer.Close()
	writer.SetFields(fields)

	row := 0
	for _, feat := range features {
		for _, shape := range geomToShapes(feat.geom) {
			writer.Write(shape)
			for i := range fields {
				val := ""
				if i < len(feat.attrs) {
					val = feat.attrs[i]
				} else if i == 0 && len(feat.attrs) == 0 {
					val = "0"
				}
				if err := writer.WriteAttribute(row, i, val); err != nil {
					return eris.Wrapf(err, "gis: write attribute %s", path)
				}
			}
			row++
		}
	}
	return nil
}

// Select filters a vector layer by attribute equality and writes matching
// features to the output shapefile.
func Select(inputPath, outputPath, field, value string) error {
	reader, err := shp.Open(inputPath)
	if err != nil {
		return eris.Wrapf(err, "gis: open shapefile %s", inputPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	idx, ok := fieldIndex(fields)[strings.ToLower(field)]
	if !ok {
		return eris.Errorf("gis: field %q not found in %s", field, inputPath)
	}

	var selected []feature
	for reader.Next() {
		_, shape := reader.Shape()
		if cleanAttr(reader.Attribute(idx)) != value {
			continue
		}
		g := shapeToGeom(shape)
		if g == nil {
			continue
		}
		attrs := make([]string, len(fields))
		for i := range fields {
			attrs[i] = cleanAttr(reader.Attribute(i))
		}
		selected = append(selected, feature{geom: g, attrs: attrs})
	}
	if len(selected) == 0 {
		return eris.Errorf("gis: no features match %s = %q in %s", field, value, inputPath)
	}
	return writeFeatures(outputPath, fields, selected)
}

// BoundingBox computes the minimum enclosing rectangle of all features in a
// vector layer and writes it as a single-feature polygon layer.
func BoundingBox(inputPath, outputPath string) error {
	features, _, err := readFeatures(inputPath)
	if err != nil {
		return err
	}
	if len(features) == 0 {
		return eris.Errorf("gis: no features in %s", inputPath)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, feat := range features {
		b := feat.geom.Bounds()
		minX = math.Min(minX, b.Min(0))
		minY = math.Min(minY, b.Min(1))
		maxX = math.Max(maxX, b.Max(0))
		maxY = math.Max(maxY, b.Max(1))
	}

	box := geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
	}, []int{10})
	return writeFeatures(outputPath, nil, []feature{{geom: box, attrs: []string{"0"}}})
}

// Clip intersects every feature of a vector layer with the dissolved
// boundary layer, preserving attributes. Features that fall entirely
// outside the boundary are dropped.
func Clip(inputPath, boundaryPath, outputPath string) error {
	features, fields, err := readFeatures(inputPath)
	if err != nil {
		return err
	}
	boundary, err := dissolvedGeometry(boundaryPath)
	if err != nil {
		return err
	}

	var clipped []feature
	for _, feat := range features {
		g, err := geomToSF(feat.geom)
		if err != nil {
			return err
		}
		inter, err := sf.Intersection(g, boundary)
		if err != nil {
			return eris.Wrapf(err, "gis: clip %s", inputPath)
		}
		if inter.IsEmpty() {
			continue
		}
		out, err := sfToGeom(inter)
		if err != nil {
			return err
		}
		clipped = append(clipped, feature{geom: out, attrs: feat.attrs})
	}
	return writeFeatures(outputPath, fields, clipped)
}

// Buffer grows every feature outward by a signed distance in the layer's
// native linear unit and writes the resulting polygons. Attributes are
// dropped, matching the dissolve-style output of the restrict step.
func Buffer(inputPath, outputPath string, distance float64) error {
	features, _, err := readFeatures(inputPath)
	if err != nil {
		return err
	}

	var buffered []feature
	for _, feat := range features {
		g, err := bufferGeometry(feat.geom, distance)
		if err != nil {
			return err
		}
		if g == nil {
			continue
		}
		buffered = append(buffered, feature{geom: g, attrs: []string{"0"}})
	}
	return writeFeatures(outputPath, nil, buffered)
}

// Union merges the geometries of multiple vector layers into one dissolved
// feature, discarding attributes.
func Union(inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return eris.New("gis: union requires at least one input")
	}

	merged := sf.Geometry{}
	for _, path := range inputPaths {
		g, err := dissolvedGeometry(path)
		if err != nil {
			return err
		}
		merged, err = sf.Union(merged, g)
		if err != nil {
			return eris.Wrapf(err, "gis: union %s", path)
		}
	}
	if merged.IsEmpty() {
		return eris.New("gis: union produced empty geometry")
	}
	out, err := sfToGeom(merged)
	if err != nil {
		return err
	}
	return writeFeatures(outputPath, nil, []feature{{geom: out, attrs: []string{"0"}}})
}

// dissolvedGeometry reads a vector layer and unions all features into a
// single geometry.
func dissolvedGeometry(path string) (sf.Geometry, error) {
	features, _, err := readFeatures(path)
	if err != nil {
		return sf.Geometry{}, err
	}
	merged := sf.Geometry{}
	for _, feat := range features {
		g, err := geomToSF(feat.geom)
		if err != nil {
			return sf.Geometry{}, err
		}
		merged, err = sf.Union(merged, g)
		if err != nil {
			return sf.Geometry{}, eris.Wrapf(err, "gis: dissolve %s", path)
		}
	}
	return merged, nil
}

// bufferGeometry buffers one geometry by the signed distance. Positive
// distances dilate with round joins approximated by circleSegments-gons;
// negative distances erode polygons and drop lines and points.
func bufferGeometry(g geom.T, distance float64) (geom.T, error) {
	base, err := geomToSF(g)
	if err != nil {
		return nil, err
	}

	radius := math.Abs(distance)
	capsules := sf.Geometry{}
	for _, seg := range geometrySegments(g) {
		capsule, err := segmentCapsule(seg[0], seg[1], radius)
		if err != nil {
			return nil, err
		}
		capsules, err = sf.Union(capsules, capsule)
		if err != nil {
			return nil, eris.Wrap(err, "gis: buffer union")
		}
	}

	var result sf.Geometry
	switch {
	case distance >= 0:
		result, err = sf.Union(base, capsules)
	case isPolygonal(g):
		result, err = sf.Difference(base, capsules)
	default:
		// Negative buffer of a line or point is empty.
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "gis: buffer combine")
	}
	if result.IsEmpty() {
		return nil, nil
	}
	return sfToGeom(result)
}

// geometrySegments decomposes a geometry into line segments; points yield a
// degenerate zero-length segment so they still get a circular footprint.
func geometrySegments(g geom.T) [][2]geom.Coord {
	var segs [][2]geom.Coord
	addLine := func(coords []geom.Coord) {
		for i := 1; i < len(coords); i++ {
			segs = append(segs, [2]geom.Coord{coords[i-1], coords[i]})
		}
	}

	switch t := g.(type) {
	case *geom.Point:
		c := geom.Coord{t.X(), t.Y()}
		segs = append(segs, [2]geom.Coord{c, c})
	case *geom.MultiPoint:
		for i := 0; i < t.NumPoints(); i++ {
			segs = append(segs, geometrySegments(t.Point(i))...)
		}
	case *geom.LineString:
		addLine(t.Coords())
	case *geom.MultiLineString:
		for i := 0; i < t.NumLineStrings(); i++ {
			addLine(t.LineString(i).Coords())
		}
	case *geom.Polygon:
		for _, ring := range t.Coords() {
			addLine(ring)
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			segs = append(segs, geometrySegments(t.Polygon(i))...)
		}
	case *geom.GeometryCollection:
		for i := 0; i < t.NumGeoms(); i++ {
			segs = append(segs, geometrySegments(t.Geom(i))...)
		}
	}
	return segs
}

// segmentCapsule returns the set of points within radius of a segment,
// built as the union of endpoint circles and, for non-degenerate segments,
// the oriented rectangle between them.
func segmentCapsule(a, b geom.Coord, radius float64) (sf.Geometry, error) {
	capsule, err := geomToSF(circlePolygon(a, radius))
	if err != nil {
		return sf.Geometry{}, err
	}
	if a[0] == b[0] && a[1] == b[1] {
		return capsule, nil
	}

	end, err := geomToSF(circlePolygon(b, radius))
	if err != nil {
		return sf.Geometry{}, err
	}
	capsule, err = sf.Union(capsule, end)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "gis: capsule union")
	}

	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	nx, ny := -dy/length*radius, dx/length*radius
	rect := geom.NewPolygonFlat(geom.XY, []float64{
		a[0] + nx, a[1] + ny,
		b[0] + nx, b[1] + ny,
		b[0] - nx, b[1] - ny,
		a[0] - nx, a[1] - ny,
		a[0] + nx, a[1] + ny,
	}, []int{10})
	rectSF, err := geomToSF(rect)
	if err != nil {
		return sf.Geometry{}, err
	}
	capsule, err = sf.Union(capsule, rectSF)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "gis: capsule union")
	}
	return capsule, nil
}

// circlePolygon approximates a circle as a closed ring around center c.
func circlePolygon(c geom.Coord, radius float64) *geom.Polygon {
	flat := make([]float64, 0, (circleSegments+1)*2)
	for i := 0; i < circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		flat = append(flat, c[0]+radius*math.Cos(theta), c[1]+radius*math.Sin(theta))
	}
	// Repeat the first vertex exactly; recomputing it at theta = 2*pi leaves
	// the ring open by a rounding error, which strict validation rejects.
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// isPolygonal reports whether the geometry has area.
func isPolygonal(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return true
	default:
		return false
	}
}
