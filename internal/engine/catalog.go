// Package engine runs the per-district suitability analysis pipeline:
// boundary selection, factor preparation, exclusion masking, factor
// scoring, and weighted combination.
package engine

import (
	"math"
	"path/filepath"

	"github.com/sells-group/siteselect-cli/internal/gis"
)

// EvaluateMode selects how a factor's prepared dataset becomes a score
// raster.
type EvaluateMode int

const (
	// EvaluateNone marks factors that only contribute exclusion zones.
	EvaluateNone EvaluateMode = iota
	// EvaluateReclassify scores an already-continuous raster directly.
	EvaluateReclassify
	// EvaluateDistance scores vector features by proximity: rasterize,
	// distance transform, then reclassify.
	EvaluateDistance
)

// CatalogEntry describes one known factor kind: its source dataset and the
// defaults a caller's FactorSpec may override.
type CatalogEntry struct {
	Kind          string
	Dataset       string
	Exclusion     bool
	DefaultBuffer float64
	DefaultWeight float64
	DefaultRules  []gis.ReclassRule
	Evaluate      EvaluateMode
}

// Catalog is the immutable registry of factor kinds plus the administrative
// boundary layer used for district selection. Construct one with
// DefaultCatalog and pass it to New; the engine holds no global state.
type Catalog struct {
	// Boundary is the administrative-boundary shapefile and DistrictField
	// the attribute holding the district code.
	Boundary      string
	DistrictField string

	// TemplatePriority orders the raster kinds eligible as the alignment
	// template; FallbackKind is clipped on demand when none were prepared.
	TemplatePriority []string
	FallbackKind     string

	Entries []CatalogEntry
}

// Lookup returns the entry for a factor kind.
func (c Catalog) Lookup(kind string) (CatalogEntry, bool) {
	for _, e := range c.Entries {
		if e.Kind == kind {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// order returns the canonical position of a kind, used to sort resolved
// factors independently of request order.
func (c Catalog) order(kind string) int {
	for i, e := range c.Entries {
		if e.Kind == kind {
			return i
		}
	}
	return len(c.Entries)
}

// proximityRules is the default distance-to-score curve shared by the
// infrastructure factors, in metres.
func proximityRules() []gis.ReclassRule {
	return []gis.ReclassRule{
		{Low: 0, High: 1000, Value: 10},
		{Low: 1000, High: 2000, Value: 8},
		{Low: 2000, High: 3000, Value: 5},
		{Low: 3000, High: math.Inf(1), Value: 2},
	}
}

// DefaultCatalog builds the registry over the NZ national datasets rooted
// at dataDir. Distances and rule curves are in the datasets' native metre
// units (NZTM, EPSG:2193).
func DefaultCatalog(dataDir string) Catalog {
	return Catalog{
		Boundary:         filepath.Join(dataDir, "territorial-authority-2025", "territorial-authority-2025.shp"),
		DistrictField:    "TA2025_V1_",
		TemplatePriority: []string{"slope", "solar", "temperature"},
		FallbackKind:     "slope",
		Entries: []CatalogEntry{
			{
				Kind:          "rivers",
				Dataset:       filepath.Join(dataDir, "nz-river-centrelines-topo-150k", "nz-river-centrelines-topo-150k.shp"),
				Exclusion:     true,
				DefaultBuffer: 500,
			},
			{
				Kind:          "lakes",
				Dataset:       filepath.Join(dataDir, "nz-lake-polygons-topo-150k", "nz-lake-polygons-topo-150k.shp"),
				Exclusion:     true,
				DefaultBuffer: 500,
			},
			{
				Kind:          "coastlines",
				Dataset:       filepath.Join(dataDir, "nz-coastlines-topo-150k", "nz-coastlines-topo-150k.shp"),
				Exclusion:     true,
				DefaultBuffer: 500,
			},
			{
				Kind:          "residential",
				Dataset:       filepath.Join(dataDir, "nz-residential-area-polygons-topo-150k", "nz-residential-area-polygons-topo-150k.shp"),
				Exclusion:     true,
				DefaultBuffer: 1000,
			},
			{
				Kind:          "slope",
				Dataset:       filepath.Join(dataDir, "lenz-slope", "slope_2193.grd"),
				DefaultWeight: 1.5,
				DefaultRules: []gis.ReclassRule{
					{Low: 0, High: 5, Value: 10},
					{Low: 5, High: 10, Value: 8},
					{Low: 10, High: 15, Value: 5},
					{Low: 15, High: 90, Value: 2},
				},
				Evaluate: EvaluateReclassify,
			},
			{
				Kind:          "roads",
				Dataset:       filepath.Join(dataDir, "nz-road-centrelines-topo-150k", "nz-road-centrelines-topo-150k.shp"),
				DefaultWeight: 1.5,
				DefaultRules:  proximityRules(),
				Evaluate:      EvaluateDistance,
			},
			{
				Kind:          "powerlines",
				Dataset:       filepath.Join(dataDir, "nz-powerline-centrelines-topo-150k", "nz-powerline-centrelines-topo-150k.shp"),
				DefaultWeight: 2.0,
				DefaultRules:  proximityRules(),
				Evaluate:      EvaluateDistance,
			},
			{
				Kind:          "solar",
				Dataset:       filepath.Join(dataDir, "lenz-mean-annual-solar-radiation", "solar_2193.grd"),
				DefaultWeight: 4.0,
				DefaultRules: []gis.ReclassRule{
					{Low: 115, High: 125, Value: 2},
					{Low: 125, High: 135, Value: 4},
					{Low: 135, High: 140, Value: 6},
					{Low: 140, High: 145, Value: 8},
					{Low: 145, High: 150, Value: 9},
					{Low: 150, High: 155, Value: 10},
				},
				Evaluate: EvaluateReclassify,
			},
			{
				Kind:          "temperature",
				Dataset:       filepath.Join(dataDir, "lenz-mean-annual-temperature", "temperature_2193.grd"),
				DefaultWeight: 1.0,
				DefaultRules: []gis.ReclassRule{
					{Low: -70, High: 0, Value: 2},
					{Low: 0, High: 50, Value: 5},
					{Low: 50, High: 120, Value: 10},
					{Low: 120, High: 140, Value: 7},
					{Low: 140, High: 165, Value: 3},
				},
				Evaluate: EvaluateReclassify,
			},
		},
	}
}
