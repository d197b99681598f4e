package events

import (
	"time"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventStageCompleted  EventType = "stage_completed"
	EventRunParked       EventType = "run_parked"
	EventRunResumed      EventType = "run_resumed"
	EventRunCompleted    EventType = "run_completed"
	EventRunFailed       EventType = "run_failed"
	EventTicketEscalated EventType = "ticket_escalated"
)

// Actor identifies the API client that caused an event. Empty for events
// raised by the pipeline itself.
type Actor struct {
	ClientID string           `json:"client_id,omitempty"`
	Role     domain.ClientRole `json:"role,omitempty"`
}

// Event represents a domain event emitted by the pipeline service.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// RunStartedPayload payload.
type RunStartedPayload struct {
	CustomerName string `json:"customer_name"`
	Priority     string `json:"priority,omitempty"`
}

// StageCompletedPayload payload.
type StageCompletedPayload struct {
	Stage         domain.StageName `json:"stage"`
	FieldsWritten []string         `json:"fields_written,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
}

// RunParkedPayload payload.
type RunParkedPayload struct {
	NextStage     domain.StageName `json:"next_stage"`
	Clarification string           `json:"clarification,omitempty"`
}

// RunResumedPayload payload.
type RunResumedPayload struct {
	NextStage domain.StageName `json:"next_stage"`
}

// RunCompletedPayload payload.
type RunCompletedPayload struct {
	Outcome     string `json:"outcome"`
	FinalStatus string `json:"final_status"`
	Response    string `json:"response"`
}

// RunFailedPayload payload.
type RunFailedPayload struct {
	Stage     domain.StageName `json:"stage"`
	ErrorCode string           `json:"error_code"`
	Message   string           `json:"message"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Score     int    `json:"score"`
	Threshold int    `json:"threshold"`
	Email     string `json:"email"`
}
