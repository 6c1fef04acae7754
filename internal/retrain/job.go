package retrain

import "time"

// Status is the retrain job state machine: pending → running → succeeded or
// failed. Jobs are never queued; a trigger that arrives while a job runs is
// skipped outright.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one attempt to produce an updated policy snapshot from recently
// finalized records. Failures carry a reason and leave the active snapshot
// untouched.
type Job struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	WindowSize      int       `json:"window_size"`
	Samples         int       `json:"samples,omitempty"`
	SnapshotVersion int       `json:"snapshot_version,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}
