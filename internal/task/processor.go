package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sells-group/siteselect-cli/internal/engine"
)

// maxErrorLen bounds the error message stored on a failed task.
const maxErrorLen = 250

// Processor drives one engine run per task: claim, execute, persist the
// terminal status. It is the only writer of task state besides external
// cancellation.
type Processor struct {
	store       Store
	uploader    Uploader
	catalog     engine.Catalog
	scratchRoot string

	// run is swappable in tests; the default builds an Engine.
	run func(ctx context.Context, t *MapTask, factors []engine.ResolvedFactor, outDir string, m engine.Monitor) (string, error)
}

// NewProcessor wires a processor over a store, an artifact uploader and a
// factor catalog. Scratch output lands under scratchRoot/task-{id}.
func NewProcessor(store Store, uploader Uploader, catalog engine.Catalog, scratchRoot string) *Processor {
	p := &Processor{
		store:       store,
		uploader:    uploader,
		catalog:     catalog,
		scratchRoot: scratchRoot,
	}
	p.run = p.runEngine
	return p
}

func (p *Processor) runEngine(ctx context.Context, t *MapTask, factors []engine.ResolvedFactor, outDir string, m engine.Monitor) (string, error) {
	eng, err := engine.New(p.catalog, outDir, factors)
	if err != nil {
		return "", err
	}
	return eng.ProcessDistrict(ctx, t.DistrictCode, m)
}

// ProcessTask executes one task to a terminal state. It never returns an
// error: background jobs have no caller, so every failure ends up on the
// task row and in the progress trail instead.
func (p *Processor) ProcessTask(ctx context.Context, id string) {
	log := zap.L().With(zap.String("task", id))

	t, err := p.store.GetTask(ctx, id)
	if err != nil {
		log.Error("processor: load task", zap.Error(err))
		return
	}
	if t == nil {
		log.Warn("processor: task not found")
		return
	}
	if t.Status.Terminal() {
		log.Info("processor: task already terminal", zap.Stringer("status", t.Status))
		return
	}

	claimed, err := p.store.ClaimPending(ctx, id)
	if err != nil {
		log.Error("processor: claim task", zap.Error(err))
		return
	}
	if !claimed {
		log.Info("processor: task not pending, another processor owns it")
		return
	}

	// Defensive re-read: a cancel may have landed since the claim.
	t, err = p.store.GetTask(ctx, id)
	if err != nil || t == nil {
		log.Error("processor: reload task", zap.Error(err))
		return
	}
	if t.Status == StatusCancelled {
		log.Info("processor: task cancelled before start")
		return
	}

	monitor := NewMonitor(ctx, p.store, p.uploader, id, t.UserID)

	cfg := engine.Config{
		Exclusions: parseFactorSpecs(t.Exclusions, "restricted", log),
		Scoring:    parseFactorSpecs(t.Scoring, "suitability", log),
	}
	factors, err := engine.Resolve(p.catalog, cfg)
	if err != nil {
		p.fail(ctx, monitor, log, id, err.Error())
		return
	}

	outDir := filepath.Join(p.scratchRoot, "task-"+id)
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			log.Warn("processor: scratch cleanup failed", zap.String("dir", outDir), zap.Error(err))
		}
	}()

	monitor.UpdateProgress(0, "init", fmt.Sprintf("Starting analysis: %s", t.DistrictCode))

	final, runErr := p.runGuarded(ctx, t, factors, outDir, monitor)
	if runErr != nil {
		p.fail(ctx, monitor, log, id, runErr.Error())
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave the row exactly as it is so the run is
		// not branded a failure. A cancelled context would reject the
		// Finish write anyway.
		log.Info("processor: run aborted by context", zap.Error(ctx.Err()))
		return
	}
	if monitor.IsCancelled() {
		log.Info("processor: task cancelled during run")
		return
	}
	if final == "" {
		p.fail(ctx, monitor, log, id, fmt.Sprintf("no score rasters produced for district %s", t.DistrictCode))
		return
	}

	monitor.UpdateProgress(100, "success", fmt.Sprintf("Finished processing %s", t.DistrictCode))
	if err := p.store.Finish(ctx, id, StatusSuccess, ""); err != nil {
		log.Error("processor: mark success", zap.Error(err))
	}
	log.Info("processor: task succeeded", zap.String("final", final))
}

// runGuarded converts panics from deep inside the raster pipeline into
// ordinary errors so they hit the same failure path.
func (p *Processor) runGuarded(ctx context.Context, t *MapTask, factors []engine.ResolvedFactor, outDir string, m engine.Monitor) (final string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.run(ctx, t, factors, outDir, m)
}

func (p *Processor) fail(ctx context.Context, monitor *TaskMonitor, log *zap.Logger, id, msg string) {
	msg = truncateError(msg)
	log.Error("processor: task failed", zap.String("message", msg))
	monitor.RecordError(msg, "error", 0, "")
	if err := p.store.Finish(ctx, id, StatusFailure, msg); err != nil {
		log.Error("processor: mark failure", zap.Error(err))
	}
}

// parseFactorSpecs leniently parses a stored factor list; malformed JSON
// degrades to an empty list at WARN since it may mask configuration
// corruption.
func parseFactorSpecs(raw, which string, log *zap.Logger) []engine.FactorSpec {
	if raw == "" {
		return nil
	}
	var specs []engine.FactorSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		log.Warn("processor: malformed factor json, treating as empty",
			zap.String("list", which),
			zap.Error(err),
		)
		return nil
	}
	return specs
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen-3] + "..."
	}
	return msg
}
