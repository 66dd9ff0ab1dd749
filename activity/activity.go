// Package activity models multi-party-approval operations on the custody
// service and the polling loop that waits for them to reach a terminal
// status.
package activity

import (
	"encoding/json"
	"fmt"
)

// Status is the approval state of an activity. The set is closed: anything
// else coming off the wire is a protocol error.
type Status string

const (
	// StatusPending means consensus has not been reached yet.
	StatusPending Status = "PENDING"
	// StatusCompleted is terminal success with a result payload.
	StatusCompleted Status = "COMPLETED"
	// StatusIncluded is terminal success for operations that settle by
	// inclusion rather than direct completion.
	StatusIncluded Status = "INCLUDED"
	// StatusFailed is terminal failure.
	StatusFailed Status = "FAILED"
	// StatusCancelled is terminal failure by cancellation.
	StatusCancelled Status = "CANCELLED"
	// StatusRejected is terminal failure by quorum rejection.
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether polling must stop at this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusIncluded, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Succeeded reports whether the status is a terminal success. Result is
// populated only for these states.
func (s Status) Succeeded() bool {
	return s == StatusCompleted || s == StatusIncluded
}

// Activity is one multi-party operation as reported by the service.
type Activity struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`

	// ErrorMessage carries a service-side failure explanation. Its
	// presence forces rejection even when Status is non-terminal.
	ErrorMessage string `json:"error,omitempty"`
}

// ConsensusNeededError signals that an operation needs further approvals
// before it takes effect. It carries what the caller needs to resume
// polling; it is not a terminal failure.
type ConsensusNeededError struct {
	ActivityID string
	Status     Status
}

func (e *ConsensusNeededError) Error() string {
	return fmt.Sprintf("activity %s requires consensus (status %s)", e.ActivityID, e.Status)
}

// FailureError is a terminal activity failure.
type FailureError struct {
	Activity Activity
}

func (e *FailureError) Error() string {
	if e.Activity.ErrorMessage != "" {
		return fmt.Sprintf("activity %s %s: %s", e.Activity.ID, e.Activity.Status, e.Activity.ErrorMessage)
	}
	return fmt.Sprintf("activity %s %s", e.Activity.ID, e.Activity.Status)
}
