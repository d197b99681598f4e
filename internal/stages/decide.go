package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/decision"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// Decide scores the candidate solution and takes the only branch of the
// pipeline: low scores are escalated to a specialist, the rest auto-resolve.
func (s *Set) Decide(ctx context.Context, state *domain.TicketState) (*domain.TicketState, error) {
	res, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilitySolutionEvaluation, state)
	if err != nil {
		return state, err
	}
	score, ok := res.Int("score")
	if !ok {
		return state, apperrors.NewInvalidResult(gateway.AbilitySolutionEvaluation, "score")
	}
	if err := state.SetDecisionScore(score); err != nil {
		return state, err
	}

	outcome := decision.Evaluate(score)
	if outcome.Escalated {
		s.logger.Info("low confidence, escalating",
			zap.String("stage", string(domain.StageDecide)),
			zap.Int("score", score),
			zap.Int("threshold", decision.Threshold))
		if _, err := s.call(ctx, gateway.ProviderSpecialist, gateway.AbilityEscalationDecision, state); err != nil {
			return state, err
		}
	}
	if err := state.SetDecision(outcome); err != nil {
		return state, err
	}
	if _, err := s.call(ctx, gateway.ProviderGeneral, gateway.AbilityUpdatePayload, state); err != nil {
		return state, err
	}
	if s.decisions != nil {
		s.decisions.RecordDecision(outcome.Outcome())
	}

	s.trace(domain.StageDecide,
		zap.Int(domain.FieldDecisionScore, score),
		zap.String("outcome", outcome.Outcome()))
	return state, nil
}

// DraftResponse renders the customer message for a decision.
func DraftResponse(customerName string, d domain.Decision) string {
	if d.Escalated {
		return fmt.Sprintf("Hi %s, your case has been escalated to a support specialist.", customerName)
	}
	return fmt.Sprintf("Hi %s, we've resolved your issue.", customerName)
}
