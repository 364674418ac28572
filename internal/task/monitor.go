package task

import (
	"context"

	"go.uber.org/zap"
)

// Uploader pushes a local artifact to durable storage and returns its
// object key.
type Uploader interface {
	SaveTaskFile(ctx context.Context, userID, taskID, localPath string) (string, error)
}

// TaskMonitor is the persistent monitor bound to one task. Audit writes
// are best-effort: failures are logged and swallowed so they never abort
// the underlying analysis.
type TaskMonitor struct {
	ctx      context.Context
	store    Store
	uploader Uploader
	taskID   string
	userID   string
}

// NewMonitor binds a monitor to a task and its owner.
func NewMonitor(ctx context.Context, store Store, uploader Uploader, taskID, userID string) *TaskMonitor {
	return &TaskMonitor{ctx: ctx, store: store, uploader: uploader, taskID: taskID, userID: userID}
}

// IsCancelled re-reads the persisted status. A missing task reads as
// cancelled, fail-safe; a read error does not, so a transient store blip
// cannot cancel a healthy run.
func (m *TaskMonitor) IsCancelled() bool {
	t, err := m.store.GetTask(m.ctx, m.taskID)
	if err != nil {
		zap.L().Warn("monitor: status check failed", zap.String("task", m.taskID), zap.Error(err))
		return false
	}
	if t == nil {
		zap.L().Warn("monitor: task vanished, treating as cancelled", zap.String("task", m.taskID))
		return true
	}
	return t.Status == StatusCancelled
}

func (m *TaskMonitor) UpdateProgress(percent int, phase, description string) {
	m.append(ProgressEntry{
		Percent:     clampPercent(percent),
		Phase:       phase,
		Description: description,
	})
}

func (m *TaskMonitor) RecordError(message, phase string, percent int, description string) {
	m.append(ProgressEntry{
		Percent:      clampPercent(percent),
		Phase:        phase,
		Description:  description,
		ErrorMessage: message,
	})
}

// RecordFile uploads the artifact and appends its record. Either half
// failing leaves the analysis untouched.
func (m *TaskMonitor) RecordFile(kind, path string) {
	key, err := m.uploader.SaveTaskFile(m.ctx, m.userID, m.taskID, path)
	if err != nil {
		zap.L().Warn("monitor: artifact upload failed",
			zap.String("task", m.taskID),
			zap.String("kind", kind),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	if err := m.store.AppendArtifact(m.ctx, ArtifactRecord{
		TaskID: m.taskID,
		UserID: m.userID,
		Kind:   kind,
		Key:    key,
	}); err != nil {
		zap.L().Warn("monitor: artifact record failed", zap.String("task", m.taskID), zap.Error(err))
	}
}

func (m *TaskMonitor) append(entry ProgressEntry) {
	entry.TaskID = m.taskID
	entry.UserID = m.userID
	if err := m.store.AppendProgress(m.ctx, entry); err != nil {
		zap.L().Warn("monitor: progress write failed", zap.String("task", m.taskID), zap.Error(err))
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
