package task

import "context"

// Filter narrows ListTasks results. Zero values mean "any".
type Filter struct {
	Status Status `json:"status,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store is the persistence contract for tasks and their audit trail.
// GetTask returns (nil, nil) when the task does not exist.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t MapTask) (*MapTask, error)
	GetTask(ctx context.Context, id string) (*MapTask, error)
	ListTasks(ctx context.Context, filter Filter) ([]MapTask, error)

	// ClaimPending atomically moves a Pending task to Processing, sets
	// started_at and clears any stale error. It reports false when the
	// task was not Pending, which guards against duplicate processors.
	ClaimPending(ctx context.Context, id string) (bool, error)

	// Finish writes a terminal status with ended_at and an optional error
	// message.
	Finish(ctx context.Context, id string, status Status, errMsg string) error

	// Cancel flips a Pending or Processing task to Cancelled and reports
	// whether anything changed. The running processor observes the flip at
	// its next checkpoint.
	Cancel(ctx context.Context, id string) (bool, error)

	// Audit trail (append-only)
	AppendProgress(ctx context.Context, entry ProgressEntry) error
	ListProgress(ctx context.Context, taskID string) ([]ProgressEntry, error)
	AppendArtifact(ctx context.Context, rec ArtifactRecord) error
	ListArtifacts(ctx context.Context, taskID string) ([]ArtifactRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
