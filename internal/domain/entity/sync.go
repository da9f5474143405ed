package entity

import (
	"fmt"
	"time"
)

// JobKind identifies one independently scheduled class of sync work.
type JobKind string

const (
	JobItems   JobKind = "items"
	JobRecipes JobKind = "recipes"
	JobPrices  JobKind = "prices"
)

// AllJobKinds lists every job kind in scheduling order.
var AllJobKinds = []JobKind{JobItems, JobRecipes, JobPrices}

// ParseJobKind converts a string into a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	for _, k := range AllJobKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// JobState is the scheduler's view of a job kind.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
	JobBackoff JobState = "backoff"
)

// SyncCursor records how far a job kind has progressed. It is only written
// after the work it describes has been durably committed.
type SyncCursor struct {
	Kind JobKind

	// Page is the last committed page, 1-based. Zero means nothing committed yet.
	Page int

	// Completed is true once a full pass has finished; the next pass starts over.
	Completed bool

	LastRunAt     *time.Time
	LastSuccessAt *time.Time
	LastError     string
	UpdatedAt     time.Time
}

// NextPage returns the page a new run should start from.
func (c *SyncCursor) NextPage() int {
	if c == nil || c.Completed {
		return 1
	}
	return c.Page + 1
}

// JobStatus is a point-in-time snapshot of one job kind.
type JobStatus struct {
	Kind                JobKind   `json:"kind"`
	State               JobState  `json:"state"`
	LastRunAt           time.Time `json:"lastRunAt,omitzero"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitzero"`
	LastFailureReason   string    `json:"lastFailureReason,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Backoff             string    `json:"backoff,omitempty"`
	NextRunAt           time.Time `json:"nextRunAt,omitzero"`
	SkippedTicks        int64     `json:"skippedTicks"`
	LastStats           RunStats  `json:"lastStats"`
}

// RunStats summarizes one job run.
type RunStats struct {
	Processed int `json:"processed"`
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}
