package chat

import "time"

// State tracks where a run sits in its lifecycle.
type State string

const (
	StateSeeded  State = "seeded"
	StateRunning State = "running"
	StateDone    State = "done"
	// StateFailed marks a run aborted by an error contained at the entry point.
	StateFailed State = "failed"
)

// StopReason explains why the run loop exited.
type StopReason string

const (
	StopApproved StopReason = "approved"
	StopCeiling  StopReason = "ceiling"
	StopError    StopReason = "error"
)

// Session captures a single crew run and its append-only turn log.
type Session struct {
	ID         string     `json:"id"`
	Request    string     `json:"request"`
	State      State      `json:"state"`
	Reason     StopReason `json:"reason,omitempty"`
	Iterations int        `json:"iterations"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
}
