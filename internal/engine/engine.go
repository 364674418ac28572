package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siteselect-cli/internal/gis"
	"github.com/sells-group/siteselect-cli/internal/raster"
)

// Monitor is the capability the engine reports through. IsCancelled is
// polled at every checkpoint; the other calls are best-effort and must not
// fail the analysis.
type Monitor interface {
	IsCancelled() bool
	UpdateProgress(percent int, phase, description string)
	RecordError(message, phase string, percent int, description string)
	RecordFile(kind, path string)
}

// LogMonitor reports progress to the global logger only, for ad-hoc runs
// outside the task pipeline.
type LogMonitor struct{}

func (LogMonitor) IsCancelled() bool { return false }

func (LogMonitor) UpdateProgress(percent int, phase, description string) {
	zap.L().Info("progress",
		zap.Int("percent", percent),
		zap.String("phase", phase),
		zap.String("description", description),
	)
}

func (LogMonitor) RecordError(message, phase string, percent int, description string) {
	zap.L().Error("progress error",
		zap.String("message", message),
		zap.String("phase", phase),
		zap.Int("percent", percent),
		zap.String("description", description),
	)
}

func (LogMonitor) RecordFile(kind, path string) {
	zap.L().Info("artifact", zap.String("kind", kind), zap.String("path", path))
}

// Engine runs the suitability pipeline for one district at a time. All
// intermediate and final outputs land under outputDir.
type Engine struct {
	catalog     Catalog
	outputDir   string
	clipDir     string
	restrictDir string
	scoreDir    string
	factors     []ResolvedFactor
}

// New creates an engine over a resolved factor list and lays out the
// scratch directories.
func New(catalog Catalog, outputDir string, factors []ResolvedFactor) (*Engine, error) {
	e := &Engine{
		catalog:     catalog,
		outputDir:   outputDir,
		clipDir:     filepath.Join(outputDir, "clip"),
		restrictDir: filepath.Join(outputDir, "restrict"),
		scoreDir:    filepath.Join(outputDir, "score"),
		factors:     factors,
	}
	for _, dir := range []string{e.clipDir, e.restrictDir, e.scoreDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "engine: create output dir %s", dir)
		}
	}
	return e, nil
}

// ProcessDistrict runs the full pipeline for one district code and returns
// the final raster path. It returns "" without error when the run was
// cancelled or when no scoring factor produced a score raster; the caller
// decides what an empty result means.
func (e *Engine) ProcessDistrict(ctx context.Context, code string, monitor Monitor) (string, error) {
	log := zap.L().With(zap.String("district", code))
	if e.aborted(ctx, monitor) {
		log.Info("engine: cancelled before start")
		return "", nil
	}
	log.Info("engine: start processing")

	// District boundary and its bounding box.
	boundary := filepath.Join(e.outputDir, fmt.Sprintf("district_boundary_%s.shp", code))
	if err := gis.Select(e.catalog.Boundary, boundary, e.catalog.DistrictField, code); err != nil {
		return "", err
	}
	bbox := filepath.Join(e.outputDir, fmt.Sprintf("district_bbox_%s.shp", code))
	if err := gis.BoundingBox(boundary, bbox); err != nil {
		return "", err
	}
	monitor.UpdateProgress(10, "district", fmt.Sprintf("Boundary prepared: %s", code))

	// Prepare every factor's dataset: vectors clip to the boundary,
	// rasters crop to the bounding box window.
	prepared := map[string]string{}
	for _, factor := range e.factors {
		out, err := e.prepare(factor, code, boundary, bbox)
		if err != nil {
			return "", err
		}
		prepared[factor.Kind] = out
		if e.aborted(ctx, monitor) {
			log.Info("engine: cancelled during preparation", zap.String("factor", factor.Kind))
			return "", nil
		}
	}

	template, err := e.templateRaster(prepared, code, bbox)
	if err != nil {
		return "", err
	}

	// Buffer and clip each exclusion factor into a restricted zone.
	var restricted []string
	for _, factor := range e.factors {
		if !factor.Exclusion {
			continue
		}
		zone, err := e.restrict(factor, prepared[factor.Kind], code, boundary)
		if err != nil {
			return "", err
		}
		restricted = append(restricted, zone)
		if e.aborted(ctx, monitor) {
			log.Info("engine: cancelled during restriction", zap.String("factor", factor.Kind))
			return "", nil
		}
	}

	restrictedMask := ""
	if len(restricted) > 0 {
		union := filepath.Join(e.restrictDir, fmt.Sprintf("restricted_union_%s.shp", code))
		if err := gis.Union(restricted, union); err != nil {
			return "", err
		}
		restrictedMask = filepath.Join(e.outputDir, fmt.Sprintf("zone_restricted_%s.grd", code))
		if err := gis.RasterizePolygon(union, restrictedMask, template, false); err != nil {
			return "", err
		}
		monitor.UpdateProgress(50, "restrict", fmt.Sprintf("Restricted zones prepared: %s", code))
		monitor.RecordFile("restricted", restrictedMask)
	} else {
		log.Warn("engine: no restricted zones")
	}

	// Score every evaluating factor.
	var scores []gis.WeightedInput
	for _, factor := range e.factors {
		if factor.Evaluate == EvaluateNone {
			continue
		}
		score, err := e.evaluate(factor, prepared[factor.Kind], template, code)
		if err != nil {
			return "", err
		}
		scores = append(scores, gis.WeightedInput{Path: score, Weight: factor.Weight})
		monitor.RecordFile(factor.Kind, score)
		if e.aborted(ctx, monitor) {
			log.Info("engine: cancelled during evaluation", zap.String("factor", factor.Kind))
			return "", nil
		}
	}
	monitor.UpdateProgress(80, "score", fmt.Sprintf("Factors scored: %s", code))

	if len(scores) == 0 {
		log.Warn("engine: no score rasters produced")
		return "", nil
	}

	weighted := filepath.Join(e.outputDir, fmt.Sprintf("zone_weighted_%s.grd", code))
	if err := gis.WeightedCombine(scores, weighted); err != nil {
		return "", err
	}
	monitor.RecordFile("weighted", weighted)

	if restrictedMask == "" {
		monitor.UpdateProgress(95, "combine", fmt.Sprintf("Finalizing: %s", code))
		return weighted, nil
	}
	final := filepath.Join(e.outputDir, fmt.Sprintf("zone_masked_%s.grd", code))
	if err := gis.ApplyMask(weighted, restrictedMask, final); err != nil {
		return "", err
	}
	monitor.UpdateProgress(95, "combine", fmt.Sprintf("Finalizing: %s", code))
	monitor.RecordFile("final", final)
	return final, nil
}

func (e *Engine) aborted(ctx context.Context, monitor Monitor) bool {
	return ctx.Err() != nil || monitor.IsCancelled()
}

// prepare clips a factor's dataset to the district: vector layers clip
// geometrically against the boundary, rasters crop to the bounding-box
// window so every grid cell inside the district's extent survives until
// the final mask.
func (e *Engine) prepare(factor ResolvedFactor, code, boundary, bbox string) (string, error) {
	zap.L().Info("engine: clipping factor data",
		zap.String("district", code),
		zap.String("factor", factor.Kind),
	)
	if strings.HasSuffix(factor.Dataset, ".shp") {
		out := filepath.Join(e.clipDir, fmt.Sprintf("clip_%s_%s.shp", factor.Kind, code))
		return out, gis.Clip(factor.Dataset, boundary, out)
	}
	out := filepath.Join(e.clipDir, fmt.Sprintf("clip_%s_%s.grd", factor.Kind, code))
	if err := gis.ClipRaster(factor.Dataset, bbox, out); err != nil {
		return "", err
	}
	logRange(out)
	return out, nil
}

// templateRaster picks the grid every raster output must align to: the
// first prepared raster in priority order, else the fallback dataset
// cropped to the bounding box on demand.
func (e *Engine) templateRaster(prepared map[string]string, code, bbox string) (string, error) {
	for _, kind := range e.catalog.TemplatePriority {
		if path, ok := prepared[kind]; ok && strings.HasSuffix(path, ".grd") {
			return path, nil
		}
	}
	entry, ok := e.catalog.Lookup(e.catalog.FallbackKind)
	if !ok {
		return "", eris.Errorf("engine: fallback template kind %q not in catalog", e.catalog.FallbackKind)
	}
	out := filepath.Join(e.clipDir, fmt.Sprintf("clip_%s_%s.grd", entry.Kind, code))
	if err := gis.ClipRaster(entry.Dataset, bbox, out); err != nil {
		return "", err
	}
	return out, nil
}

func (e *Engine) restrict(factor ResolvedFactor, preparedPath, code, boundary string) (string, error) {
	zap.L().Info("engine: buffering factor",
		zap.String("district", code),
		zap.String("factor", factor.Kind),
		zap.Float64("distance", factor.Buffer),
	)
	buffered := filepath.Join(e.restrictDir, fmt.Sprintf("buffer_%s_%s.shp", factor.Kind, code))
	if err := gis.Buffer(preparedPath, buffered, factor.Buffer); err != nil {
		return "", err
	}
	clipped := filepath.Join(e.restrictDir, fmt.Sprintf("buffer_clipped_%s_%s.shp", factor.Kind, code))
	return clipped, gis.Clip(buffered, boundary, clipped)
}

// evaluate turns a prepared factor into a score raster.
func (e *Engine) evaluate(factor ResolvedFactor, preparedPath, template, code string) (string, error) {
	zap.L().Info("engine: evaluating factor",
		zap.String("district", code),
		zap.String("factor", factor.Kind),
	)
	score := filepath.Join(e.scoreDir, fmt.Sprintf("score_%s_%s.grd", factor.Kind, code))

	switch factor.Evaluate {
	case EvaluateReclassify:
		logRange(preparedPath)
		if err := gis.Reclassify(preparedPath, score, factor.Rules); err != nil {
			return "", err
		}
	case EvaluateDistance:
		binary := filepath.Join(e.scoreDir, fmt.Sprintf("binary_%s_%s.grd", factor.Kind, code))
		if err := gis.RasterizePolygon(preparedPath, binary, template, false); err != nil {
			return "", err
		}
		distance := filepath.Join(e.scoreDir, fmt.Sprintf("distance_%s_%s.grd", factor.Kind, code))
		if err := gis.DistanceTransform(binary, distance); err != nil {
			return "", err
		}
		logRange(distance)
		if err := gis.Reclassify(distance, score, factor.Rules); err != nil {
			return "", err
		}
	default:
		return "", eris.Errorf("engine: factor %s has no evaluate step", factor.Kind)
	}
	logRange(score)
	return score, nil
}

func logRange(path string) {
	g, err := raster.Read(path)
	if err != nil {
		return
	}
	if min, max, ok := g.Range(); ok {
		zap.L().Debug("engine: raster range",
			zap.String("path", path),
			zap.Float64("min", min),
			zap.Float64("max", max),
		)
	}
}
