package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siteselect-cli/internal/gis"
	"github.com/sells-group/siteselect-cli/internal/raster"
)

// recordingMonitor captures progress and artifact calls; cancelAfter
// flips IsCancelled once that many checks have happened.
type recordingMonitor struct {
	checks      int
	cancelAfter int
	progress    []string
	artifacts   map[string]string
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{cancelAfter: -1, artifacts: map[string]string{}}
}

func (m *recordingMonitor) IsCancelled() bool {
	m.checks++
	return m.cancelAfter >= 0 && m.checks > m.cancelAfter
}

func (m *recordingMonitor) UpdateProgress(percent int, phase, description string) {
	m.progress = append(m.progress, fmt.Sprintf("%d/%s", percent, phase))
}

func (m *recordingMonitor) RecordError(message, phase string, percent int, description string) {}

func (m *recordingMonitor) RecordFile(kind, path string) { m.artifacts[kind] = path }

// writeDistricts builds the administrative boundary layer: district 001
// covers [0,10000]^2, district 002 sits far away.
func writeDistricts(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "districts.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("TA2025_V1_", 16)})

	squares := []struct {
		code           string
		minX, maxX, minY, maxY float64
	}{
		{"001", 0, 10000, 0, 10000},
		{"002", 50000, 60000, 0, 10000},
	}
	for i, s := range squares {
		w.Write(&shp.Polygon{
			Box:       shp.Box{MinX: s.minX, MinY: s.minY, MaxX: s.maxX, MaxY: s.maxY},
			NumParts:  1,
			NumPoints: 5,
			Parts:     []int32{0},
			Points: []shp.Point{
				{X: s.minX, Y: s.minY}, {X: s.maxX, Y: s.minY},
				{X: s.maxX, Y: s.maxY}, {X: s.minX, Y: s.maxY},
				{X: s.minX, Y: s.minY},
			},
		})
		require.NoError(t, w.WriteAttribute(i, 0, s.code))
	}
	// District 003 is triangular: the lower-left half of [0,10000]^2, so
	// its bounding box spans the full square.
	w.Write(&shp.Polygon{
		Box:       shp.Box{MinX: 0, MinY: 0, MaxX: 10000, MaxY: 10000},
		NumParts:  1,
		NumPoints: 4,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 10000, Y: 0}, {X: 0, Y: 10000}, {X: 0, Y: 0},
		},
	})
	require.NoError(t, w.WriteAttribute(len(squares), 0, "003"))
	w.Close()
	return path
}

// writeLine builds a single vertical polyline layer at the given x.
func writeLine(t *testing.T, dir, name string, x float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.NumberField("FID", 11)})
	w.Write(&shp.PolyLine{
		Box:       shp.Box{MinX: x, MinY: 0, MaxX: x, MaxY: 10000},
		NumParts:  1,
		NumPoints: 2,
		Parts:     []int32{0},
		Points:    []shp.Point{{X: x, Y: 0}, {X: x, Y: 10000}},
	})
	require.NoError(t, w.WriteAttribute(0, 0, "0"))
	w.Close()
	return path
}

// writeSlope builds a 10x10 slope raster over [0,10000]^2 where every cell
// holds twice its column index.
func writeSlope(t *testing.T, dir string) string {
	t.Helper()
	tr := raster.Transform{OriginX: 0, OriginY: 10000, PixelWidth: 1000, PixelHeight: -1000}
	g := raster.New(10, 10, tr, "EPSG:2193", -9999)
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			g.Set(row, col, float64(col*2))
		}
	}
	path := filepath.Join(dir, "slope_2193.grd")
	require.NoError(t, g.Write(path))
	return path
}

func testCatalog(t *testing.T, dataDir string) Catalog {
	t.Helper()
	return Catalog{
		Boundary:         writeDistricts(t, dataDir),
		DistrictField:    "TA2025_V1_",
		TemplatePriority: []string{"slope"},
		FallbackKind:     "slope",
		Entries: []CatalogEntry{
			{Kind: "rivers", Dataset: writeLine(t, dataDir, "rivers.shp", 500), Exclusion: true, DefaultBuffer: 500},
			{
				Kind:          "slope",
				Dataset:       writeSlope(t, dataDir),
				DefaultWeight: 1.5,
				DefaultRules:  []gis.ReclassRule{{Low: 0, High: 90, Value: 1}},
				Evaluate:      EvaluateReclassify,
			},
			{Kind: "roads", Dataset: writeLine(t, dataDir, "roads.shp", 500), DefaultWeight: 1.5, Evaluate: EvaluateDistance},
		},
	}
}

func TestProcessDistrict(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	cfg := Config{
		Exclusions: []FactorSpec{{Kind: "rivers", BufferDistance: 500}},
		Scoring: []FactorSpec{{
			Kind:        "slope",
			Weight:      1.5,
			Breakpoints: []float64{5, 10, 15},
			Points:      []int{10, 8, 5, 2},
		}},
	}
	factors, err := Resolve(catalog, cfg)
	require.NoError(t, err)

	eng, err := New(catalog, t.TempDir(), factors)
	require.NoError(t, err)
	monitor := newRecordingMonitor()

	final, err := eng.ProcessDistrict(context.Background(), "001", monitor)
	require.NoError(t, err)
	require.NotEmpty(t, final)

	got, err := raster.Read(final)
	require.NoError(t, err)

	// The river buffer swallows the leftmost column; everything else is a
	// weighted slope score. With one scoring factor the normalized weight
	// is 1, so cells carry the reclassified value directly.
	assert.Equal(t, float64(gis.ScoredNodata), got.At(5, 0))
	assert.Equal(t, float64(10), got.At(5, 1)) // slope 2 -> [.,5)
	assert.Equal(t, float64(8), got.At(5, 3))  // slope 6 -> [5,10)
	assert.Equal(t, float64(5), got.At(5, 5))  // slope 10 -> [10,15)
	assert.Equal(t, float64(2), got.At(5, 9))  // slope 18 -> [15,.)

	assert.Contains(t, monitor.progress, "10/district")
	assert.Contains(t, monitor.progress, "50/restrict")
	assert.Contains(t, monitor.progress, "80/score")
	assert.Contains(t, monitor.progress, "95/combine")
	for _, kind := range []string{"restricted", "slope", "weighted", "final"} {
		assert.Contains(t, monitor.artifacts, kind)
	}
}

func TestProcessDistrictDistanceScoring(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	cfg := Config{
		Scoring: []FactorSpec{{
			Kind:        "roads",
			Weight:      1,
			Breakpoints: []float64{2000},
			Points:      []int{10, 2},
		}},
	}
	factors, err := Resolve(catalog, cfg)
	require.NoError(t, err)

	eng, err := New(catalog, t.TempDir(), factors)
	require.NoError(t, err)

	final, err := eng.ProcessDistrict(context.Background(), "001", newRecordingMonitor())
	require.NoError(t, err)
	require.NotEmpty(t, final)

	got, err := raster.Read(final)
	require.NoError(t, err)
	// Column 0 sits on the road; column 9 is 9km away.
	assert.Equal(t, float64(10), got.At(5, 0))
	assert.Equal(t, float64(2), got.At(5, 9))
}

func TestProcessDistrictRasterClipUsesBoundingBox(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	factors, err := Resolve(catalog, Config{
		Scoring: []FactorSpec{{Kind: "slope"}},
	})
	require.NoError(t, err)

	eng, err := New(catalog, t.TempDir(), factors)
	require.NoError(t, err)

	final, err := eng.ProcessDistrict(context.Background(), "003", newRecordingMonitor())
	require.NoError(t, err)
	require.NotEmpty(t, final)

	got, err := raster.Read(final)
	require.NoError(t, err)
	// Rasters crop to the district's bounding box, so a cell outside the
	// triangular boundary but inside its box still carries a score.
	assert.Equal(t, float64(1), got.At(8, 0)) // inside the triangle
	assert.Equal(t, float64(1), got.At(1, 9)) // outside it, inside the box
}

func TestProcessDistrictNoScoringFactors(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	factors, err := Resolve(catalog, Config{
		Exclusions: []FactorSpec{{Kind: "rivers"}},
	})
	require.NoError(t, err)

	eng, err := New(catalog, t.TempDir(), factors)
	require.NoError(t, err)

	final, err := eng.ProcessDistrict(context.Background(), "001", newRecordingMonitor())
	require.NoError(t, err)
	assert.Empty(t, final)
}

func TestProcessDistrictCancellation(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	factors, err := Resolve(catalog, Config{
		Exclusions: []FactorSpec{{Kind: "rivers"}},
		Scoring:    []FactorSpec{{Kind: "slope"}},
	})
	require.NoError(t, err)

	outDir := t.TempDir()
	eng, err := New(catalog, outDir, factors)
	require.NoError(t, err)

	// Cancel at the second checkpoint: boundary work runs, scoring never
	// starts.
	monitor := newRecordingMonitor()
	monitor.cancelAfter = 1

	final, err := eng.ProcessDistrict(context.Background(), "001", monitor)
	require.NoError(t, err)
	assert.Empty(t, final)
	assert.Empty(t, monitor.artifacts)
	assert.NoFileExists(t, filepath.Join(outDir, "zone_weighted_001.grd"))
}

func TestProcessDistrictContextCancelled(t *testing.T) {
	catalog := testCatalog(t, t.TempDir())
	eng, err := New(catalog, t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, err := eng.ProcessDistrict(ctx, "001", newRecordingMonitor())
	require.NoError(t, err)
	assert.Empty(t, final)
}
