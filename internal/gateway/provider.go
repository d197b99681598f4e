package gateway

import (
	"context"
	"encoding/json"
	"math"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// Provider identities used by the ticket pipeline.
const (
	ProviderGeneral    = "general"
	ProviderSpecialist = "specialist"
)

// Abilities invoked by the stages.
const (
	AbilityAcceptPayload        = "accept_payload"
	AbilityParseRequestText     = "parse_request_text"
	AbilityExtractEntities      = "extract_entities"
	AbilityNormalizeFields      = "normalize_fields"
	AbilityEnrichRecords        = "enrich_records"
	AbilityAddFlagsCalculations = "add_flags_calculations"
	AbilityClarifyQuestion      = "clarify_question"
	AbilityExtractAnswer        = "extract_answer"
	AbilityKnowledgeBaseSearch  = "knowledge_base_search"
	AbilitySolutionEvaluation   = "solution_evaluation"
	AbilityEscalationDecision   = "escalation_decision"
	AbilityUpdatePayload        = "update_payload"
	AbilityUpdateTicket         = "update_ticket"
	AbilityCloseTicket          = "close_ticket"
	AbilityResponseGeneration   = "response_generation"
	AbilityExecuteAPICalls      = "execute_api_calls"
	AbilityTriggerNotifications = "trigger_notifications"
	AbilityOutputPayload        = "output_payload"
)

// readOnlyAbilities may be retried; every other ability has external side effects.
var readOnlyAbilities = map[string]struct{}{
	AbilityAcceptPayload:        {},
	AbilityParseRequestText:     {},
	AbilityExtractEntities:      {},
	AbilityNormalizeFields:      {},
	AbilityEnrichRecords:        {},
	AbilityAddFlagsCalculations: {},
	AbilityKnowledgeBaseSearch:  {},
	AbilitySolutionEvaluation:   {},
	AbilityResponseGeneration:   {},
}

// IsReadOnly reports whether an ability is safe to retry.
func IsReadOnly(ability string) bool {
	_, ok := readOnlyAbilities[ability]
	return ok
}

// Provider is a named source of capabilities. Implementations must be safe
// for concurrent use and must treat state as read-only.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, ability string, state *domain.TicketState) (Result, error)
}

// Result is the opaque payload returned by an ability call.
type Result map[string]any

// String returns a non-empty string value.
func (r Result) String(key string) (string, bool) {
	v, ok := r[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Int returns an integral value, accepting the numeric types JSON decoding produces.
func (r Result) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Strings returns a list of strings, preserving order.
func (r Result) Strings(key string) ([]string, bool) {
	switch v := r[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Map returns a nested object value.
func (r Result) Map(key string) (map[string]any, bool) {
	v, ok := r[key].(map[string]any)
	return v, ok
}

// Clone copies the top level of the result.
func (r Result) Clone() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
