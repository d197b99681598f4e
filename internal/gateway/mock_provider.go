package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// MockResponses are the placeholder values the reference collaborators return.
type MockResponses struct {
	DecisionScore int
	Clarification string
	Answer        string
	KBResults     []string
}

// Call records one ability invocation seen by a MockProvider.
type Call struct {
	Provider string
	Ability  string
	TicketID string
}

// MockProvider stands in for a real capability backend. Every ability answers
// with {ability: "mock_result_from_<name>"}; abilities whose result a stage
// consumes also carry the structured key the stage reads.
type MockProvider struct {
	name      string
	responses MockResponses

	mu       sync.Mutex
	calls    []Call
	failures map[string]error
}

// NewMockProvider builds a mock provider with the given identity.
func NewMockProvider(name string, responses MockResponses) *MockProvider {
	return &MockProvider{
		name:      name,
		responses: responses,
		failures:  make(map[string]error),
	}
}

// Name returns the provider identity.
func (m *MockProvider) Name() string {
	return m.name
}

// FailOn makes every later call to ability return err.
func (m *MockProvider) FailOn(ability string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[ability] = err
}

// Calls returns the invocations seen so far, in order.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Called reports whether ability was invoked at least once.
func (m *MockProvider) Called(ability string) bool {
	for _, call := range m.Calls() {
		if call.Ability == ability {
			return true
		}
	}
	return false
}

// Invoke answers an ability call.
func (m *MockProvider) Invoke(ctx context.Context, ability string, state *domain.TicketState) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	call := Call{Provider: m.name, Ability: ability}
	if state != nil {
		call.TicketID = state.TicketID
	}
	m.calls = append(m.calls, call)
	failure := m.failures[ability]
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}

	result := Result{ability: fmt.Sprintf("mock_result_from_%s", m.name)}
	switch ability {
	case AbilityClarifyQuestion:
		result["question"] = m.responses.Clarification
	case AbilityExtractAnswer:
		answer := m.responses.Answer
		if state != nil && state.CustomerReply != "" {
			answer = state.CustomerReply
		}
		result["answer"] = answer
	case AbilityKnowledgeBaseSearch:
		result["results"] = append([]string(nil), m.responses.KBResults...)
	case AbilitySolutionEvaluation:
		result["score"] = m.responses.DecisionScore
	}
	return result, nil
}
