package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	"github.com/spec-kit/ticket-agent/internal/stages"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

type harness struct {
	orch       *Orchestrator
	general    *gateway.MockProvider
	specialist *gateway.MockProvider
	logs       *observer.ObservedLogs
	events     *recordingObserver
}

func newHarness(t *testing.T, score int, checkpoints CheckpointStore) *harness {
	t.Helper()
	responses := gateway.MockResponses{
		DecisionScore: score,
		Clarification: "Could you provide your Order ID?",
		Answer:        "Order ID: 12345",
		KBResults:     []string{"FAQ: Orders may be delayed 5-7 days."},
	}
	general := gateway.NewMockProvider(gateway.ProviderGeneral, responses)
	specialist := gateway.NewMockProvider(gateway.ProviderSpecialist, responses)
	gw, err := gateway.New(gateway.Options{}, general, specialist)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	graph, err := DefaultGraph(stages.New(stages.Dependencies{Gateway: gw, Logger: logger}))
	require.NoError(t, err)

	events := &recordingObserver{}
	orch, err := New(graph, Options{Logger: logger, Checkpoints: checkpoints, Observers: []Observer{events}})
	require.NoError(t, err)
	return &harness{orch: orch, general: general, specialist: specialist, logs: logs, events: events}
}

func aliceTicket() *domain.TicketState {
	return domain.NewTicketState("T12345", "Alice", "alice@example.com", "My order hasn't arrived yet", "high")
}

type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	before    []domain.StageName
	after     []StageReport
	failed    []StageReport
	parked    []*Checkpoint
	completed []*Result
}

func (r *recordingObserver) BeforeStage(_ context.Context, _ string, stage domain.StageName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, stage)
}

func (r *recordingObserver) AfterStage(_ context.Context, report StageReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, report)
}

func (r *recordingObserver) StageFailed(_ context.Context, report StageReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, report)
}

func (r *recordingObserver) RunParked(_ context.Context, cp *Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parked = append(r.parked, cp)
}

func (r *recordingObserver) RunCompleted(_ context.Context, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, res)
}

func TestRun_EscalatesLowConfidenceTicket(t *testing.T) {
	h := newHarness(t, 82, nil)

	res, err := h.orch.Run(context.Background(), "run-1", aliceTicket())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, domain.StageOrder, res.Trace)

	state := res.State
	score, ok := state.PriorityScore()
	require.True(t, ok)
	assert.Equal(t, 90, score)
	assert.Equal(t, domain.Decision{Escalated: true, Score: 82}, *state.Decision)
	assert.Equal(t, 82, *state.DecisionScore)
	assert.Equal(t, stages.FinalStatusClosed, *state.FinalStatus)
	assert.Contains(t, *state.Response, "Alice")
	assert.Contains(t, *state.Response, "escalated")
	assert.True(t, *state.NotificationsSent)
	assert.True(t, h.specialist.Called(gateway.AbilityEscalationDecision))

	for _, field := range domain.ProgressiveFields {
		assert.True(t, state.Has(field), "field %s", field)
	}
	assert.Len(t, h.events.completed, 1)
}

func TestRun_AutoResolvesHighConfidenceTicket(t *testing.T) {
	h := newHarness(t, 95, nil)

	res, err := h.orch.Run(context.Background(), "run-2", aliceTicket())
	require.NoError(t, err)

	assert.Equal(t, domain.Decision{AutoResolved: true, Score: 95}, *res.State.Decision)
	assert.Contains(t, *res.State.Response, "resolved")
	assert.NotContains(t, *res.State.Response, "escalated")
	assert.False(t, h.specialist.Called(gateway.AbilityEscalationDecision))
}

func TestRun_InvokesEachStageExactlyOnce(t *testing.T) {
	h := newHarness(t, 82, nil)

	_, err := h.orch.Run(context.Background(), "run-3", aliceTicket())
	require.NoError(t, err)

	assert.Equal(t, domain.StageOrder, h.events.before)
	require.Len(t, h.events.after, len(domain.StageOrder))
	assert.Equal(t, []string{domain.FieldEntities}, h.events.after[1].FieldsWritten)
	assert.Equal(t, []string{domain.FieldDecisionScore, domain.FieldDecision}, h.events.after[6].FieldsWritten)
	assert.Empty(t, h.events.after[0].FieldsWritten)

	traced := h.logs.FilterMessage("stage progress").Len()
	assert.Equal(t, len(domain.StageOrder), traced)
}

func TestRun_AbortsOnStageFailureWithLastGoodState(t *testing.T) {
	h := newHarness(t, 82, nil)
	h.specialist.FailOn(gateway.AbilityExtractEntities, errors.New("nlp backend down"))

	res, err := h.orch.Run(context.Background(), "run-4", aliceTicket())
	require.Error(t, err)
	assert.Nil(t, res)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, domain.StageUnderstand, runErr.Stage)
	assert.Equal(t, apperrors.CodeCapabilityUnavailable, runErr.Kind)
	assert.Equal(t, "run-4", runErr.RunID)
	assert.Nil(t, runErr.State.Entities)
	assert.Empty(t, runErr.State.WrittenFields())
	assert.Equal(t, "Alice", runErr.State.CustomerName)
	assert.Equal(t, []domain.StageName{domain.StageIntake}, runErr.Trace)

	assert.Equal(t, []domain.StageName{domain.StageIntake, domain.StageUnderstand}, h.events.before)
	assert.False(t, h.general.Called(gateway.AbilityNormalizeFields), "PREPARE must not run")
	require.Len(t, h.events.failed, 1)
	assert.Equal(t, domain.StageUnderstand, h.events.failed[0].Stage)
	assert.Empty(t, h.events.completed)
}

func TestRun_StopsWhenContextCanceled(t *testing.T) {
	h := newHarness(t, 82, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, "run-5", aliceTicket())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, domain.StageIntake, runErr.Stage)
	assert.Equal(t, apperrors.CodeCanceled, runErr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.general.Calls())
}

func TestRun_GeneratesRunID(t *testing.T) {
	h := newHarness(t, 82, nil)
	res, err := h.orch.Run(context.Background(), "", aliceTicket())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
}

func TestRun_RejectsNilState(t *testing.T) {
	h := newHarness(t, 82, nil)
	_, err := h.orch.Run(context.Background(), "run-6", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestRun_ParksAtWaitAndResumes(t *testing.T) {
	store := NewMemoryCheckpointStore()
	h := newHarness(t, 95, store)

	res, err := h.orch.Run(context.Background(), "run-7", aliceTicket())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusParked, res.Status)
	assert.Equal(t, domain.StageWait, res.NextStage)
	assert.Equal(t, domain.StageOrder[:4], res.Trace)
	assert.NotNil(t, res.State.Clarification)
	assert.Nil(t, res.State.UserAnswer)
	require.Len(t, h.events.parked, 1)
	assert.False(t, h.specialist.Called(gateway.AbilityExtractAnswer))

	resumed, err := h.orch.Resume(context.Background(), "run-7", "Order 98765")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, resumed.Status)
	assert.Equal(t, domain.StageOrder, resumed.Trace)
	assert.Equal(t, "Order 98765", *resumed.State.UserAnswer)
	assert.Equal(t, stages.FinalStatusClosed, *resumed.State.FinalStatus)

	_, err = store.Load(context.Background(), "run-7")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestRun_DoesNotParkWhenReplyAlreadyPresent(t *testing.T) {
	h := newHarness(t, 95, NewMemoryCheckpointStore())
	state := aliceTicket()
	state.CustomerReply = "Order 1"

	res, err := h.orch.Run(context.Background(), "run-8", state)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, "Order 1", *res.State.UserAnswer)
}

func TestResume_Errors(t *testing.T) {
	h := newHarness(t, 95, nil)
	_, err := h.orch.Resume(context.Background(), "run-9", "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	h = newHarness(t, 95, NewMemoryCheckpointStore())
	_, err = h.orch.Resume(context.Background(), "unknown", "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = h.orch.Resume(context.Background(), "unknown", "  ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

type mockCheckpointStore struct {
	mock.Mock
}

func (m *mockCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	return m.Called(ctx, cp).Error(0)
}

func (m *mockCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	args := m.Called(ctx, runID)
	cp, _ := args.Get(0).(*Checkpoint)
	return cp, args.Error(1)
}

func (m *mockCheckpointStore) Take(ctx context.Context, runID string) (*Checkpoint, error) {
	args := m.Called(ctx, runID)
	cp, _ := args.Get(0).(*Checkpoint)
	return cp, args.Error(1)
}

func TestResume_ClaimsCheckpointWithTake(t *testing.T) {
	store := &mockCheckpointStore{}
	store.On("Take", mock.Anything, "run-11").Return(nil, NewCheckpointNotFound("run-11"))
	h := newHarness(t, 95, store)

	_, err := h.orch.Resume(context.Background(), "run-11", "Order 1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestResume_ConcurrentRepliesRunTailOnce(t *testing.T) {
	h := newHarness(t, 82, NewMemoryCheckpointStore())
	_, err := h.orch.Run(context.Background(), "run-12", aliceTicket())
	require.NoError(t, err)

	const replies = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, replies)
	for i := 0; i < replies; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.orch.Resume(context.Background(), "run-12", "Order 1")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	count := func(ability string) int {
		n := 0
		for _, call := range h.specialist.Calls() {
			if call.Ability == ability {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(gateway.AbilityTriggerNotifications))
	assert.Equal(t, 1, count(gateway.AbilityCloseTicket))
	assert.Len(t, h.events.completed, 1)
}

func TestRun_CheckpointSaveFailureFailsRun(t *testing.T) {
	store := &mockCheckpointStore{}
	store.On("Save", mock.Anything, mock.MatchedBy(func(cp *Checkpoint) bool {
		return cp.RunID == "run-10" && cp.NextStage == domain.StageWait
	})).Return(errors.New("redis down"))
	h := newHarness(t, 95, store)

	_, err := h.orch.Run(context.Background(), "run-10", aliceTicket())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, domain.StageWait, runErr.Stage)
	assert.Equal(t, apperrors.CodeInternal, runErr.Kind)
	store.AssertExpectations(t)
}

func TestRun_ConcurrentRunsAreIsolated(t *testing.T) {
	h := newHarness(t, 82, nil)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := aliceTicket()
			state.TicketID = string(rune('A' + i))
			res, err := h.orch.Run(context.Background(), "", state)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, string(rune('A'+i)), res.State.TicketID)
		assert.Equal(t, domain.StageOrder, res.Trace)
	}
}
