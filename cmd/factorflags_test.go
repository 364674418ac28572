package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExcludeFlag(t *testing.T) {
	t.Run("kind only", func(t *testing.T) {
		spec, err := parseExcludeFlag("rivers")
		require.NoError(t, err)
		assert.Equal(t, "rivers", spec.Kind)
		assert.Zero(t, spec.BufferDistance)
	})

	t.Run("kind with buffer", func(t *testing.T) {
		spec, err := parseExcludeFlag("residential=1500")
		require.NoError(t, err)
		assert.Equal(t, "residential", spec.Kind)
		assert.Equal(t, 1500.0, spec.BufferDistance)
	})

	t.Run("empty kind", func(t *testing.T) {
		_, err := parseExcludeFlag("=500")
		require.Error(t, err)
	})

	t.Run("bad buffer", func(t *testing.T) {
		_, err := parseExcludeFlag("rivers=wide")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid buffer distance")
	})
}

func TestParseScoreFlag(t *testing.T) {
	t.Run("kind only", func(t *testing.T) {
		spec, err := parseScoreFlag("slope")
		require.NoError(t, err)
		assert.Equal(t, "slope", spec.Kind)
		assert.Zero(t, spec.Weight)
		assert.Nil(t, spec.Breakpoints)
	})

	t.Run("kind with weight", func(t *testing.T) {
		spec, err := parseScoreFlag("solar=4.0")
		require.NoError(t, err)
		assert.Equal(t, "solar", spec.Kind)
		assert.Equal(t, 4.0, spec.Weight)
	})

	t.Run("full curve", func(t *testing.T) {
		spec, err := parseScoreFlag("slope=1.5:5,10,15/10,8,5,2")
		require.NoError(t, err)
		assert.Equal(t, 1.5, spec.Weight)
		assert.Equal(t, []float64{5, 10, 15}, spec.Breakpoints)
		assert.Equal(t, []int{10, 8, 5, 2}, spec.Points)
	})

	t.Run("curve without points", func(t *testing.T) {
		_, err := parseScoreFlag("slope=1.5:5,10,15")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "breakpoints/points")
	})

	t.Run("bad weight", func(t *testing.T) {
		_, err := parseScoreFlag("slope=heavy")
		require.Error(t, err)
	})

	t.Run("bad breakpoint", func(t *testing.T) {
		_, err := parseScoreFlag("slope=1.5:a,b/1,2,3")
		require.Error(t, err)
	})

	t.Run("bad point", func(t *testing.T) {
		_, err := parseScoreFlag("slope=1.5:5/x,y")
		require.Error(t, err)
	})
}

func TestParseFactorFlags(t *testing.T) {
	parsed, err := parseFactorFlags(
		[]string{"rivers=500", "residential"},
		[]string{"slope=1.5", "solar=4.0:115,125/2,4"},
	)
	require.NoError(t, err)
	require.Len(t, parsed.Exclusions, 2)
	require.Len(t, parsed.Scoring, 2)
	assert.Equal(t, "rivers", parsed.Exclusions[0].Kind)
	assert.Equal(t, "solar", parsed.Scoring[1].Kind)

	_, err = parseFactorFlags([]string{"=5"}, nil)
	require.Error(t, err)

	_, err = parseFactorFlags(nil, []string{"slope=x"})
	require.Error(t, err)
}
