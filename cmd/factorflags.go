package main

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siteselect-cli/internal/engine"
)

// parseExcludeFlag parses an exclusion factor flag of the form
// "kind" or "kind=bufferDistance".
func parseExcludeFlag(s string) (engine.FactorSpec, error) {
	kind, rest, found := strings.Cut(s, "=")
	spec := engine.FactorSpec{Kind: strings.TrimSpace(kind)}
	if spec.Kind == "" {
		return spec, eris.Errorf("invalid exclusion factor %q", s)
	}
	if !found {
		return spec, nil
	}
	buffer, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return spec, eris.Wrapf(err, "invalid buffer distance in %q", s)
	}
	spec.BufferDistance = buffer
	return spec, nil
}

// parseScoreFlag parses a scoring factor flag of the form "kind",
// "kind=weight" or "kind=weight:b0,b1,.../p0,p1,...".
func parseScoreFlag(s string) (engine.FactorSpec, error) {
	kind, rest, found := strings.Cut(s, "=")
	spec := engine.FactorSpec{Kind: strings.TrimSpace(kind)}
	if spec.Kind == "" {
		return spec, eris.Errorf("invalid scoring factor %q", s)
	}
	if !found {
		return spec, nil
	}

	weightPart, curvePart, hasCurve := strings.Cut(rest, ":")
	weight, err := strconv.ParseFloat(weightPart, 64)
	if err != nil {
		return spec, eris.Wrapf(err, "invalid weight in %q", s)
	}
	spec.Weight = weight
	if !hasCurve {
		return spec, nil
	}

	breaksPart, pointsPart, ok := strings.Cut(curvePart, "/")
	if !ok {
		return spec, eris.Errorf("scoring curve in %q needs breakpoints/points", s)
	}
	for _, b := range strings.Split(breaksPart, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err != nil {
			return spec, eris.Wrapf(err, "invalid breakpoint in %q", s)
		}
		spec.Breakpoints = append(spec.Breakpoints, v)
	}
	for _, p := range strings.Split(pointsPart, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return spec, eris.Wrapf(err, "invalid point in %q", s)
		}
		spec.Points = append(spec.Points, v)
	}
	return spec, nil
}

func parseFactorFlags(excludes, scores []string) (engine.Config, error) {
	var cfg engine.Config
	for _, e := range excludes {
		spec, err := parseExcludeFlag(e)
		if err != nil {
			return cfg, err
		}
		cfg.Exclusions = append(cfg.Exclusions, spec)
	}
	for _, s := range scores {
		spec, err := parseScoreFlag(s)
		if err != nil {
			return cfg, err
		}
		cfg.Scoring = append(cfg.Scoring, spec)
	}
	return cfg, nil
}
