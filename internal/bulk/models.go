// Package bulk runs queued batch verification jobs over analysis targets.
// Jobs process entries strictly in order, commit each outcome immediately,
// and honor cooperative pause requests at batch boundaries.
package bulk

import (
	"time"

	"idcollect/internal/entry"
)

// JobStatus is the job lifecycle position.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusError     JobStatus = "error"
)

// Terminal reports whether the job can never process another entry.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Counters accumulate per-entry outcomes. Processed always equals
// Verified + Failed + Skipped.
type Counters struct {
	Processed int `json:"processed"`
	Verified  int `json:"verified"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Outcome is the committed result of one processed target.
type Outcome struct {
	EntryID string       `json:"entryId"`
	Status  entry.Status `json:"status"`

	// Skipped marks entries that were already verified when their turn
	// came; no registry call was made for them.
	Skipped bool `json:"skipped,omitempty"`

	FailedFields []string `json:"failedFields,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Job is a point-in-time snapshot of one bulk verification job.
type Job struct {
	ID     string    `json:"id"`
	ListID string    `json:"listId"`
	Status JobStatus `json:"status"`

	Total    int `json:"total"`
	Counters Counters `json:"counters"`

	// Progress is the processed share in whole percent.
	Progress int `json:"progress"`

	// Completed is the authoritative completion signal; progress numbers
	// are informational only.
	Completed bool `json:"completed"`

	// QueuePosition and EstimatedWait are set only while queued.
	QueuePosition int           `json:"queuePosition,omitempty"`
	EstimatedWait time.Duration `json:"estimatedWait,omitempty"`

	Error string `json:"error,omitempty"`

	// Outcomes is populated only on detail retrievals, in processing
	// order.
	Outcomes []Outcome `json:"outcomes,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
