package transfer

import (
	"errors"
	"time"
)

type OutcomeStatus string

const (
	StatusSucceeded        OutcomeStatus = "succeeded"
	StatusFailed           OutcomeStatus = "failed"
	StatusDependencyFailed OutcomeStatus = "dependency_failed"
	StatusCancelled        OutcomeStatus = "cancelled"
	StatusSkipped          OutcomeStatus = "skipped"
)

// Outcome is the final state of one enqueued operation.
// Op is nil for failures reported by the planner (a subtree that could not be listed).
type Outcome struct {
	Op         *Operation
	Path       string
	Status     OutcomeStatus
	Err        error
	Warning    error
	Bytes      int64
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o *Outcome) Attempted() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

// Result aggregates the outcomes of one scheduler run. It is not modified after Run returns.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []*Outcome
}

func (r *Result) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func (r *Result) filter(keep func(*Outcome) bool) []*Outcome {
	var out []*Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns operations that were attempted and failed or never ran because of a failed dependency.
func (r *Result) Failures() []*Outcome {
	return r.filter(func(o *Outcome) bool {
		return o.Status == StatusFailed || o.Status == StatusDependencyFailed
	})
}

func (r *Result) Cancelled() []*Outcome {
	return r.filter(func(o *Outcome) bool { return o.Status == StatusCancelled })
}

func (r *Result) Warnings() []*Outcome {
	return r.filter(func(o *Outcome) bool { return o.Warning != nil })
}

// Bytes is the total number of bytes copied by successful operations
func (r *Result) Bytes() int64 {
	var n int64
	for _, o := range r.Outcomes {
		if o.Status == StatusSucceeded {
			n += o.Bytes
		}
	}
	return n
}

// Failed reports whether the run contains an IO failure or a dependency failure.
func (r *Result) Failed() bool {
	return len(r.Failures()) > 0
}

// Err returns a *RunError listing every failed and cancelled outcome, or nil.
func (r *Result) Err() error {
	bad := r.filter(func(o *Outcome) bool {
		return o.Status == StatusFailed || o.Status == StatusDependencyFailed || o.Status == StatusCancelled
	})
	if len(bad) == 0 {
		return nil
	}
	return &RunError{Outcomes: bad}
}

// IsCancelled reports whether err carries at least one cancelled outcome
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
