package domain

import "time"

// RunStatus enumerates lifecycle states for a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusParked    RunStatus = "PARKED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// PipelineRun is the persisted record of one pass of a ticket through the pipeline.
type PipelineRun struct {
	ID           string
	TicketID     string
	Status       RunStatus
	State        TicketState
	Trace        []StageName
	NextStage    *StageName
	FailedStage  *StageName
	ErrorCode    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StageOutcome captures how a single stage execution ended.
type StageOutcome string

const (
	StageOutcomeCompleted StageOutcome = "COMPLETED"
	StageOutcomeFailed    StageOutcome = "FAILED"
	StageOutcomeParked    StageOutcome = "PARKED"
)

// StageHistory is an immutable audit entry for one stage execution.
type StageHistory struct {
	ID            string
	RunID         string
	Stage         StageName
	Outcome       StageOutcome
	FieldsWritten []string
	ErrorCode     string
	Duration      time.Duration
	CreatedAt     time.Time
}
