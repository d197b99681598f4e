package dto

import (
	"time"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// StartRunRequest payload for POST /v1/runs.
type StartRunRequest struct {
	TicketID     string `json:"ticket_id"`
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Query        string `json:"query"`
	Priority     string `json:"priority"`
	// CustomerReply answers the clarification question ahead of time.
	CustomerReply string `json:"customer_reply"`
}

// ReplyRequest payload for POST /v1/runs/:id/reply.
type ReplyRequest struct {
	Reply string `json:"reply"`
}

// RunResponse describes a pipeline run.
type RunResponse struct {
	ID           string             `json:"id"`
	TicketID     string             `json:"ticket_id"`
	Status       domain.RunStatus   `json:"status"`
	Trace        []domain.StageName `json:"trace"`
	NextStage    *domain.StageName  `json:"next_stage,omitempty"`
	FailedStage  *domain.StageName  `json:"failed_stage,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	State        domain.TicketState `json:"state"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// StageHistoryResponse is one entry of GET /v1/runs/:id/history.
type StageHistoryResponse struct {
	Stage         domain.StageName    `json:"stage"`
	Outcome       domain.StageOutcome `json:"outcome"`
	FieldsWritten []string            `json:"fields_written,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	DurationMs    int64               `json:"duration_ms"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewRunResponse maps a run record.
func NewRunResponse(run *domain.PipelineRun) RunResponse {
	trace := run.Trace
	if trace == nil {
		trace = []domain.StageName{}
	}
	return RunResponse{
		ID:           run.ID,
		TicketID:     run.TicketID,
		Status:       run.Status,
		Trace:        trace,
		NextStage:    run.NextStage,
		FailedStage:  run.FailedStage,
		ErrorCode:    run.ErrorCode,
		ErrorMessage: run.ErrorMessage,
		State:        run.State,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

// NewStageHistoryResponse maps history entries.
func NewStageHistoryResponse(entries []domain.StageHistory) []StageHistoryResponse {
	items := make([]StageHistoryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, StageHistoryResponse{
			Stage:         e.Stage,
			Outcome:       e.Outcome,
			FieldsWritten: e.FieldsWritten,
			ErrorCode:     e.ErrorCode,
			DurationMs:    e.Duration.Milliseconds(),
			CreatedAt:     e.CreatedAt,
		})
	}
	return items
}
