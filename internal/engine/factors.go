package engine

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siteselect-cli/internal/gis"
)

// FactorSpec is one caller-supplied factor configuration. An exclusion
// factor carries BufferDistance; a scoring factor carries Weight plus an
// optional scoring curve (strictly ascending Breakpoints and one more Point
// than breakpoints).
type FactorSpec struct {
	Kind           string    `json:"kind"`
	BufferDistance float64   `json:"buffer_distance,omitempty"`
	Weight         float64   `json:"weight,omitempty"`
	Breakpoints    []float64 `json:"breakpoints,omitempty"`
	Points         []int     `json:"points,omitempty"`
}

// Config pairs the exclusion and scoring factor lists of one analysis run.
type Config struct {
	Exclusions []FactorSpec `json:"restricted_factors"`
	Scoring    []FactorSpec `json:"suitability_factors"`
}

// ResolvedFactor is a catalog entry overlaid with caller parameters, ready
// for the engine to execute.
type ResolvedFactor struct {
	Kind      string
	Dataset   string
	Exclusion bool
	Buffer    float64
	Weight    float64
	Rules     []gis.ReclassRule
	Evaluate  EvaluateMode
}

// Resolve turns a Config into the engine's execution list. Unknown kinds
// are dropped (kind validation is an upstream concern), duplicates resolve
// first-wins, and the result follows the catalog's canonical order rather
// than request order.
func Resolve(catalog Catalog, cfg Config) ([]ResolvedFactor, error) {
	byKind := map[string]ResolvedFactor{}

	for _, spec := range cfg.Exclusions {
		entry, ok := catalog.Lookup(spec.Kind)
		if !ok || !entry.Exclusion {
			continue
		}
		if _, dup := byKind[spec.Kind]; dup {
			continue
		}
		buffer := entry.DefaultBuffer
		if spec.BufferDistance != 0 {
			buffer = spec.BufferDistance
		}
		byKind[spec.Kind] = ResolvedFactor{
			Kind:      spec.Kind,
			Dataset:   entry.Dataset,
			Exclusion: true,
			Buffer:    buffer,
		}
	}

	for _, spec := range cfg.Scoring {
		entry, ok := catalog.Lookup(spec.Kind)
		if !ok || entry.Evaluate == EvaluateNone {
			continue
		}
		if _, dup := byKind[spec.Kind]; dup {
			continue
		}
		weight := entry.DefaultWeight
		if spec.Weight != 0 {
			if spec.Weight < 0 {
				return nil, eris.Errorf("engine: factor %s has negative weight %v", spec.Kind, spec.Weight)
			}
			weight = spec.Weight
		}
		rules := entry.DefaultRules
		if len(spec.Breakpoints) > 0 || len(spec.Points) > 0 {
			var err error
			rules, err = rulesFromCurve(spec.Breakpoints, spec.Points)
			if err != nil {
				return nil, eris.Wrapf(err, "engine: factor %s", spec.Kind)
			}
		}
		byKind[spec.Kind] = ResolvedFactor{
			Kind:     spec.Kind,
			Dataset:  entry.Dataset,
			Weight:   weight,
			Rules:    rules,
			Evaluate: entry.Evaluate,
		}
	}

	resolved := make([]ResolvedFactor, 0, len(byKind))
	for _, f := range byKind {
		resolved = append(resolved, f)
	}
	sort.Slice(resolved, func(i, j int) bool {
		return catalog.order(resolved[i].Kind) < catalog.order(resolved[j].Kind)
	})
	return resolved, nil
}

// rulesFromCurve converts a breakpoint list and its scores into half-open
// reclassification rules covering the whole real line.
func rulesFromCurve(breakpoints []float64, points []int) ([]gis.ReclassRule, error) {
	if len(points) != len(breakpoints)+1 {
		return nil, eris.Errorf("scoring curve needs %d points for %d breakpoints, got %d",
			len(breakpoints)+1, len(breakpoints), len(points))
	}
	for i := 1; i < len(breakpoints); i++ {
		if breakpoints[i] <= breakpoints[i-1] {
			return nil, eris.Errorf("breakpoints must be strictly ascending, got %v", breakpoints)
		}
	}

	rules := make([]gis.ReclassRule, len(points))
	low := math.Inf(-1)
	for i, p := range points {
		high := math.Inf(1)
		if i < len(breakpoints) {
			high = breakpoints[i]
		}
		rules[i] = gis.ReclassRule{Low: low, High: high, Value: p}
		low = high
	}
	return rules, nil
}
