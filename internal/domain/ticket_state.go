package domain

import (
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// Progressive field names, as they appear in payloads, traces and errors.
const (
	FieldEntities          = "entities"
	FieldNormalizedFields  = "normalized_fields"
	FieldClarification     = "clarification"
	FieldUserAnswer        = "user_answer"
	FieldKBResults         = "kb_results"
	FieldDecisionScore     = "decision_score"
	FieldDecision          = "decision"
	FieldResponse          = "response"
	FieldFinalStatus       = "final_status"
	FieldNotificationsSent = "notifications_sent"
)

// ProgressiveFields lists the stage-owned fields in the order stages write them.
var ProgressiveFields = []string{
	FieldEntities,
	FieldNormalizedFields,
	FieldClarification,
	FieldUserAnswer,
	FieldKBResults,
	FieldDecisionScore,
	FieldDecision,
	FieldFinalStatus,
	FieldResponse,
	FieldNotificationsSent,
}

// TicketState is the record threaded through every stage of one pipeline run.
// Identity fields are set by the caller; progressive fields are nil until their
// owning stage writes them and are write-once afterwards.
type TicketState struct {
	TicketID     string `json:"ticket_id"`
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Query        string `json:"query"`
	Priority     string `json:"priority,omitempty"`

	// CustomerReply is supplied by the caller when a parked run resumes.
	CustomerReply string `json:"customer_reply,omitempty"`

	Entities          map[string]any `json:"entities,omitempty"`
	NormalizedFields  map[string]any `json:"normalized_fields,omitempty"`
	Clarification     *string        `json:"clarification,omitempty"`
	UserAnswer        *string        `json:"user_answer,omitempty"`
	KBResults         []string       `json:"kb_results,omitempty"`
	DecisionScore     *int           `json:"decision_score,omitempty"`
	Decision          *Decision      `json:"decision,omitempty"`
	Response          *string        `json:"response,omitempty"`
	FinalStatus       *string        `json:"final_status,omitempty"`
	NotificationsSent *bool          `json:"notifications_sent,omitempty"`
}

// NewTicketState builds the initial record for a run.
func NewTicketState(ticketID, customerName, email, query, priority string) *TicketState {
	return &TicketState{
		TicketID:     ticketID,
		CustomerName: customerName,
		Email:        email,
		Query:        query,
		Priority:     priority,
	}
}

func (s *TicketState) SetEntities(entities map[string]any) error {
	if s.Entities != nil {
		return apperrors.NewFieldAlreadyWritten(FieldEntities)
	}
	if entities == nil {
		entities = map[string]any{}
	}
	s.Entities = entities
	return nil
}

func (s *TicketState) SetNormalizedFields(fields map[string]any) error {
	if s.NormalizedFields != nil {
		return apperrors.NewFieldAlreadyWritten(FieldNormalizedFields)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	s.NormalizedFields = fields
	return nil
}

func (s *TicketState) SetClarification(text string) error {
	if s.Clarification != nil {
		return apperrors.NewFieldAlreadyWritten(FieldClarification)
	}
	s.Clarification = &text
	return nil
}

func (s *TicketState) SetUserAnswer(text string) error {
	if s.UserAnswer != nil {
		return apperrors.NewFieldAlreadyWritten(FieldUserAnswer)
	}
	s.UserAnswer = &text
	return nil
}

func (s *TicketState) SetKBResults(results []string) error {
	if s.KBResults != nil {
		return apperrors.NewFieldAlreadyWritten(FieldKBResults)
	}
	s.KBResults = append(make([]string, 0, len(results)), results...)
	return nil
}

func (s *TicketState) SetDecisionScore(score int) error {
	if s.DecisionScore != nil {
		return apperrors.NewFieldAlreadyWritten(FieldDecisionScore)
	}
	s.DecisionScore = &score
	return nil
}

func (s *TicketState) SetDecision(decision Decision) error {
	if s.Decision != nil {
		return apperrors.NewFieldAlreadyWritten(FieldDecision)
	}
	s.Decision = &decision
	return nil
}

func (s *TicketState) SetResponse(text string) error {
	if s.Response != nil {
		return apperrors.NewFieldAlreadyWritten(FieldResponse)
	}
	s.Response = &text
	return nil
}

func (s *TicketState) SetFinalStatus(status string) error {
	if s.FinalStatus != nil {
		return apperrors.NewFieldAlreadyWritten(FieldFinalStatus)
	}
	s.FinalStatus = &status
	return nil
}

func (s *TicketState) SetNotificationsSent(sent bool) error {
	if s.NotificationsSent != nil {
		return apperrors.NewFieldAlreadyWritten(FieldNotificationsSent)
	}
	s.NotificationsSent = &sent
	return nil
}

// Has reports whether the named progressive field has been written.
func (s *TicketState) Has(field string) bool {
	switch field {
	case FieldEntities:
		return s.Entities != nil
	case FieldNormalizedFields:
		return s.NormalizedFields != nil
	case FieldClarification:
		return s.Clarification != nil
	case FieldUserAnswer:
		return s.UserAnswer != nil
	case FieldKBResults:
		return s.KBResults != nil
	case FieldDecisionScore:
		return s.DecisionScore != nil
	case FieldDecision:
		return s.Decision != nil
	case FieldResponse:
		return s.Response != nil
	case FieldFinalStatus:
		return s.FinalStatus != nil
	case FieldNotificationsSent:
		return s.NotificationsSent != nil
	default:
		return false
	}
}

// WrittenFields returns the progressive fields present on the record.
func (s *TicketState) WrittenFields() []string {
	written := make([]string, 0, len(ProgressiveFields))
	for _, field := range ProgressiveFields {
		if s.Has(field) {
			written = append(written, field)
		}
	}
	return written
}

// Require returns MISSING_REQUIRED_FIELD for the first absent field.
func (s *TicketState) Require(stage StageName, fields ...string) error {
	for _, field := range fields {
		if !s.Has(field) {
			return apperrors.NewMissingField(string(stage), field)
		}
	}
	return nil
}

// PriorityScore returns normalized_fields.priority_score when present.
func (s *TicketState) PriorityScore() (int, bool) {
	if s.NormalizedFields == nil {
		return 0, false
	}
	switch v := s.NormalizedFields["priority_score"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		// JSON round trips through a checkpoint store decode numbers as float64.
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// Clone returns a deep copy of the record.
func (s *TicketState) Clone() *TicketState {
	if s == nil {
		return nil
	}
	out := *s
	out.Entities = cloneMap(s.Entities)
	out.NormalizedFields = cloneMap(s.NormalizedFields)
	out.Clarification = clonePtr(s.Clarification)
	out.UserAnswer = clonePtr(s.UserAnswer)
	if s.KBResults != nil {
		out.KBResults = append(make([]string, 0, len(s.KBResults)), s.KBResults...)
	}
	out.DecisionScore = clonePtr(s.DecisionScore)
	out.Decision = clonePtr(s.Decision)
	out.Response = clonePtr(s.Response)
	out.FinalStatus = clonePtr(s.FinalStatus)
	out.NotificationsSent = clonePtr(s.NotificationsSent)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}
