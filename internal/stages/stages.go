// Package stages implements the eleven units of work of the ticket pipeline.
// Each stage calls its collaborators through the capability gateway, writes
// only the fields it owns and returns the same state it was handed.
package stages

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	"github.com/spec-kit/ticket-agent/internal/observability"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// FinalStatusClosed is written by the Update stage.
const FinalStatusClosed = "Closed"

// Func is the body of a stage. It takes ownership of state and hands it back.
type Func func(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error)

// Stage pairs a stage name with its body.
type Stage struct {
	Name domain.StageName
	Run  Func
}

// DecisionRecorder receives Decide stage outcomes.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// Dependencies bundles collaborators for the stage set.
type Dependencies struct {
	Gateway   gateway.Invoker
	Logger    *zap.Logger
	Decisions DecisionRecorder
}

// Set builds the pipeline stages over one gateway.
type Set struct {
	gw        gateway.Invoker
	logger    *zap.Logger
	decisions DecisionRecorder
}

// New constructs the stage set.
func New(deps Dependencies) *Set {
	return &Set{
		gw:        deps.Gateway,
		logger:    observability.OrNop(deps.Logger).Named("stage"),
		decisions: deps.Decisions,
	}
}

// All returns the stages in execution order.
func (s *Set) All() []Stage {
	return []Stage{
		{Name: domain.StageIntake, Run: s.Intake},
		{Name: domain.StageUnderstand, Run: s.Understand},
		{Name: domain.StagePrepare, Run: s.Prepare},
		{Name: domain.StageAsk, Run: s.Ask},
		{Name: domain.StageWait, Run: s.Wait},
		{Name: domain.StageRetrieve, Run: s.Retrieve},
		{Name: domain.StageDecide, Run: s.Decide},
		{Name: domain.StageUpdate, Run: s.Update},
		{Name: domain.StageCreate, Run: s.Create},
		{Name: domain.StageDo, Run: s.Do},
		{Name: domain.StageComplete, Run: s.Complete},
	}
}

// Intake accepts the payload once the identity fields are present.
func (s *Set) Intake(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	identity := []struct {
		name  string
		value string
	}{
		{"ticket_id", state.TicketID},
		{"customer_name", state.CustomerName},
		{"email", state.Email},
		{"query", state.Query},
	}
	for _, field := range identity {
		if strings.TrimSpace(field.value) == "" {
			return state, apperrors.NewMissingField(string(domain.StageIntake), field.name)
		}
	}

	if _, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilityAcceptPayload, state); err != nil {
		return state, err
	}
	s.trace(domain.StageIntake, zap.String("ticket_id", state.TicketID))
	return state, nil
}

// Understand parses the request and extracts entities.
func (s *Set) Understand(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if _, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilityParseRequestText, state); err != nil {
		return state, err
	}
	res, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityExtractEntities, state)
	if err != nil {
		return state, err
	}

	entities, ok := res.Map("entities")
	if !ok {
		entities = res.Clone()
	}
	if err := state.SetEntities(entities); err != nil {
		return state, err
	}
	s.trace(domain.StageUnderstand, zap.Any(domain.FieldEntities, state.Entities))
	return state, nil
}

// Prepare normalizes fields and derives the priority score.
func (s *Set) Prepare(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	calls := []struct{ provider, ability string }{
		{gateway.ProviderGeneral, gateway.AbilityNormalizeFields},
		{gateway.ProviderSpecialist, gateway.AbilityEnrichRecords},
		{gateway.ProviderGeneral, gateway.AbilityAddFlagsCalculations},
	}
	for _, c := range calls {
		if _, err := s.call(ctx, c.provider, c.ability, state); err != nil {
			return state, err
		}
	}

	fields := map[string]any{
		"priority":       NormalizePriority(state.Priority),
		"priority_score": PriorityScore(state.Priority),
	}
	if err := state.SetNormalizedFields(fields); err != nil {
		return state, err
	}
	s.trace(domain.StagePrepare, zap.Any(domain.FieldNormalizedFields, state.NormalizedFields))
	return state, nil
}

// Ask produces the clarification prompt for the customer.
func (s *Set) Ask(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	res, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityClarifyQuestion, state)
	if err != nil {
		return state, err
	}
	question, ok := res.String("question")
	if !ok {
		return state, apperrors.NewInvalidResult(gateway.AbilityClarifyQuestion, "question")
	}
	if err := state.SetClarification(question); err != nil {
		return state, err
	}
	s.trace(domain.StageAsk, zap.String(domain.FieldClarification, question))
	return state, nil
}

// Wait captures the customer's answer to the clarification prompt.
func (s *Set) Wait(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if err := state.Require(domain.StageWait, domain.FieldClarification); err != nil {
		return state, err
	}
	res, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityExtractAnswer, state)
	if err != nil {
		return state, err
	}
	answer, ok := res.String("answer")
	if !ok {
		return state, apperrors.NewInvalidResult(gateway.AbilityExtractAnswer, "answer")
	}
	if err := state.SetUserAnswer(answer); err != nil {
		return state, err
	}
	s.trace(domain.StageWait, zap.String(domain.FieldUserAnswer, answer))
	return state, nil
}

// Retrieve stores knowledge-base snippets in the order the collaborator ranked them.
func (s *Set) Retrieve(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	res, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityKnowledgeBaseSearch, state)
	if err != nil {
		return state, err
	}
	results, ok := res.Strings("results")
	if !ok {
		return state, apperrors.NewInvalidResult(gateway.AbilityKnowledgeBaseSearch, "results")
	}
	if err := state.SetKBResults(results); err != nil {
		return state, err
	}
	s.trace(domain.StageRetrieve, zap.Strings(domain.FieldKBResults, state.KBResults))
	return state, nil
}

// Create drafts the customer-facing response from the decision outcome.
func (s *Set) Create(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if err := state.Require(domain.StageCreate, domain.FieldDecision); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilityResponseGeneration, state); err != nil {
		return state, err
	}
	msg := DraftResponse(state.CustomerName, *state.Decision)
	if err := state.SetResponse(msg); err != nil {
		return state, err
	}
	s.trace(domain.StageCreate, zap.String(domain.FieldResponse, msg))
	return state, nil
}

// Update records the outcome in the ticketing system and closes the ticket.
func (s *Set) Update(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if err := state.Require(domain.StageUpdate, domain.FieldDecision); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityUpdateTicket, state); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityCloseTicket, state); err != nil {
		return state, err
	}
	if err := state.SetFinalStatus(FinalStatusClosed); err != nil {
		return state, err
	}
	s.trace(domain.StageUpdate, zap.String(domain.FieldFinalStatus, FinalStatusClosed))
	return state, nil
}

// Do executes downstream API calls and notifies the customer.
func (s *Set) Do(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if err := state.Require(domain.StageDo, domain.FieldResponse); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityExecuteAPICalls, state); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityTriggerNotifications, state); err != nil {
		return state, err
	}
	if err := state.SetNotificationsSent(true); err != nil {
		return state, err
	}
	s.trace(domain.StageDo, zap.Bool(domain.FieldNotificationsSent, true))
	return state, nil
}

// Complete verifies the payload is whole and hands it to the output collaborator.
func (s *Set) Complete(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	if err := state.Require(domain.StageComplete, domain.ProgressiveFields...); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilityOutputPayload, state); err != nil {
		return state, err
	}
	s.trace(domain.StageComplete, zap.Strings("fields", state.WrittenFields()))
	return state, nil
}

func (s *Set) call(ctx context.Context, provider, ability string, state *domain.TicketState) (gateway.Result, error) {
	if s.gw == nil {
		return nil, apperrors.NewCapabilityUnavailable(provider, ability, nil)
	}
	return s.gw.Invoke(ctx, provider, ability, state)
}

func (s *Set) trace(stage domain.StageName, fields ...zap.Field) {
	s.logger.Info("stage progress", append([]zap.Field{zap.String("stage", string(stage))}, fields...)...)
}
