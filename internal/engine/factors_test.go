package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siteselect-cli/internal/gis"
)

func resolveCatalog() Catalog {
	return Catalog{
		Entries: []CatalogEntry{
			{Kind: "rivers", Dataset: "rivers.shp", Exclusion: true, DefaultBuffer: 500},
			{Kind: "lakes", Dataset: "lakes.shp", Exclusion: true, DefaultBuffer: 500},
			{
				Kind: "slope", Dataset: "slope.grd", DefaultWeight: 1.5,
				DefaultRules: []gis.ReclassRule{{Low: 0, High: 90, Value: 1}},
				Evaluate:     EvaluateReclassify,
			},
			{Kind: "roads", Dataset: "roads.shp", DefaultWeight: 1.5, Evaluate: EvaluateDistance},
		},
	}
}

func TestResolve(t *testing.T) {
	catalog := resolveCatalog()

	t.Run("unknown kinds are dropped", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Exclusions: []FactorSpec{{Kind: "volcanoes", BufferDistance: 100}},
			Scoring:    []FactorSpec{{Kind: "slope"}},
		})
		require.NoError(t, err)
		require.Len(t, factors, 1)
		assert.Equal(t, "slope", factors[0].Kind)
	})

	t.Run("defaults apply when the factor is bare", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Exclusions: []FactorSpec{{Kind: "rivers"}},
			Scoring:    []FactorSpec{{Kind: "slope"}},
		})
		require.NoError(t, err)
		require.Len(t, factors, 2)
		assert.Equal(t, 500.0, factors[0].Buffer)
		assert.Equal(t, 1.5, factors[1].Weight)
		assert.Equal(t, catalog.Entries[2].DefaultRules, factors[1].Rules)
	})

	t.Run("caller parameters override defaults", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Exclusions: []FactorSpec{{Kind: "rivers", BufferDistance: 2000}},
			Scoring: []FactorSpec{{
				Kind: "slope", Weight: 3,
				Breakpoints: []float64{10},
				Points:      []int{9, 1},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2000.0, factors[0].Buffer)
		assert.Equal(t, 3.0, factors[1].Weight)
		require.Len(t, factors[1].Rules, 2)
		assert.True(t, math.IsInf(factors[1].Rules[0].Low, -1))
		assert.Equal(t, 10.0, factors[1].Rules[0].High)
		assert.Equal(t, 9, factors[1].Rules[0].Value)
		assert.True(t, math.IsInf(factors[1].Rules[1].High, 1))
	})

	t.Run("duplicates resolve first-wins", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Exclusions: []FactorSpec{
				{Kind: "rivers", BufferDistance: 100},
				{Kind: "rivers", BufferDistance: 9000},
			},
		})
		require.NoError(t, err)
		require.Len(t, factors, 1)
		assert.Equal(t, 100.0, factors[0].Buffer)
	})

	t.Run("result follows catalog order, not request order", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Exclusions: []FactorSpec{{Kind: "lakes"}, {Kind: "rivers"}},
			Scoring:    []FactorSpec{{Kind: "roads"}, {Kind: "slope"}},
		})
		require.NoError(t, err)
		kinds := make([]string, len(factors))
		for i, f := range factors {
			kinds[i] = f.Kind
		}
		assert.Equal(t, []string{"rivers", "lakes", "slope", "roads"}, kinds)
	})

	t.Run("non-ascending breakpoints fail", func(t *testing.T) {
		_, err := Resolve(catalog, Config{
			Scoring: []FactorSpec{{
				Kind: "slope", Breakpoints: []float64{10, 5}, Points: []int{1, 2, 3},
			}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strictly ascending")
	})

	t.Run("point count must be breakpoints plus one", func(t *testing.T) {
		_, err := Resolve(catalog, Config{
			Scoring: []FactorSpec{{
				Kind: "slope", Breakpoints: []float64{5, 10}, Points: []int{1, 2},
			}},
		})
		require.Error(t, err)
	})

	t.Run("negative weight fails", func(t *testing.T) {
		_, err := Resolve(catalog, Config{
			Scoring: []FactorSpec{{Kind: "slope", Weight: -1}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative weight")
	})

	t.Run("zero weight falls back to catalog default", func(t *testing.T) {
		factors, err := Resolve(catalog, Config{
			Scoring: []FactorSpec{{Kind: "slope", Weight: 0}},
		})
		require.NoError(t, err)
		require.Len(t, factors, 1)
		entry, ok := catalog.Lookup("slope")
		require.True(t, ok)
		assert.Equal(t, entry.DefaultWeight, factors[0].Weight)
	})
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog("/data")

	assert.Equal(t, "TA2025_V1_", catalog.DistrictField)
	assert.Equal(t, []string{"slope", "solar", "temperature"}, catalog.TemplatePriority)

	rivers, ok := catalog.Lookup("rivers")
	require.True(t, ok)
	assert.True(t, rivers.Exclusion)
	assert.Equal(t, 500.0, rivers.DefaultBuffer)

	residential, ok := catalog.Lookup("residential")
	require.True(t, ok)
	assert.Equal(t, 1000.0, residential.DefaultBuffer)

	slope, ok := catalog.Lookup("slope")
	require.True(t, ok)
	assert.Equal(t, EvaluateReclassify, slope.Evaluate)
	assert.Equal(t, 1.5, slope.DefaultWeight)

	powerlines, ok := catalog.Lookup("powerlines")
	require.True(t, ok)
	assert.Equal(t, EvaluateDistance, powerlines.Evaluate)
	assert.Equal(t, 2.0, powerlines.DefaultWeight)
	assert.True(t, math.IsInf(powerlines.DefaultRules[len(powerlines.DefaultRules)-1].High, 1))

	_, ok = catalog.Lookup("volcanoes")
	assert.False(t, ok)
}
