package model

import "time"

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusError    RunStatus = "error"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID        string     `json:"id"`
	Process   string     `json:"process"`
	Status    RunStatus  `json:"status"`
	Message   string     `json:"message"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
