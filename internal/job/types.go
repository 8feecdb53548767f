// Package job holds the values exchanged between the runner, the progress
// tracker and the failure aggregator.
package job

import (
	"context"
	"time"
)

// Func performs one attempt at a job. A returned error fails the attempt.
type Func func(ctx context.Context, id string) error

// Status is a job's terminal state within a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusAbandoned marks a job cut short by cancellation.
	StatusAbandoned Status = "abandoned"
)

// Outcome is published on the event bus once per dispatched job.
type Outcome struct {
	RunID    string        `json:"run_id"`
	ID       string        `json:"id"`
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Took     time.Duration `json:"took"`
}

// ErrorEntry is one terminal job failure.
type ErrorEntry struct {
	ID      string
	At      time.Time
	Message string
}

// Format renders the entry as it appears in an escalation.
func (e ErrorEntry) Format() string {
	return "url: " + e.ID + "\nerror: " + e.Message
}
