// Package task owns the durable analysis job: the persisted task record,
// its status state machine, the progress/artifact audit trail, and the
// processor that drives one engine run per task.
package task

import "time"

// Status is the task state machine. Pending and Processing are
// non-terminal; the rest are terminal and sticky.
type Status int

const (
	StatusPending Status = iota + 1
	StatusProcessing
	StatusSuccess
	StatusFailure
	StatusCancelled
)

// Terminal reports whether no further transitions may apply.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ParseStatus maps a status name back to its Status value. Unknown
// names return the zero Status.
func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "processing":
		return StatusProcessing
	case "success":
		return StatusSuccess
	case "failure":
		return StatusFailure
	case "cancelled":
		return StatusCancelled
	}
	return 0
}

// MapTask is one persisted analysis job. The exclusion and scoring factor
// lists are stored as serialized JSON exactly as the caller supplied them.
type MapTask struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	DistrictCode string     `json:"district_code"`
	Status       Status     `json:"status"`
	Exclusions   string     `json:"restricted_factors"`
	Scoring      string     `json:"suitability_factors"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// ProgressEntry is one append-only audit record of a task's progress.
type ProgressEntry struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	UserID       string    `json:"user_id"`
	Percent      int       `json:"percent"`
	Phase        string    `json:"phase"`
	Description  string    `json:"description"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ArtifactRecord is one append-only pointer to an uploaded raster.
type ArtifactRecord struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}
