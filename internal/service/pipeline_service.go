package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/decision"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/observability"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/repository"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// RunRecorder receives pipeline measurements.
type RunRecorder interface {
	RecordStage(stage, outcome string, duration time.Duration)
	RecordRun(status string)
}

// PipelineService runs tickets through the pipeline and keeps the run record,
// stage history and event stream in step with the orchestrator.
type PipelineService struct {
	orch       *pipeline.Orchestrator
	runs       repository.RunRepository
	history    repository.StageHistoryRepository
	dispatcher events.Dispatcher
	recorder   RunRecorder
	logger     *zap.Logger
}

// PipelineDependencies bundles collaborators for the pipeline service.
type PipelineDependencies struct {
	Graph       *pipeline.Graph
	Checkpoints pipeline.CheckpointStore
	RunRepo     repository.RunRepository
	HistoryRepo repository.StageHistoryRepository
	Dispatcher  events.Dispatcher
	Recorder    RunRecorder
	Logger      *zap.Logger
}

// StartRunInput carries the identity fields of a new ticket.
type StartRunInput struct {
	TicketID     string
	CustomerName string
	Email        string
	Query        string
	Priority     string
	// CustomerReply answers the clarification up front so the run never parks.
	CustomerReply string
	Actor         events.Actor
}

// NewPipelineService builds the service and the orchestrator it observes.
func NewPipelineService(deps PipelineDependencies) (*PipelineService, error) {
	if deps.RunRepo == nil || deps.HistoryRepo == nil {
		return nil, errors.New("run and history repositories are required")
	}
	svc := &PipelineService{
		runs:       deps.RunRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		logger:     observability.OrNop(deps.Logger).Named("pipeline_service"),
	}
	orch, err := pipeline.New(deps.Graph, pipeline.Options{
		Logger:      deps.Logger,
		Checkpoints: deps.Checkpoints,
		Observers:   []pipeline.Observer{svc},
	})
	if err != nil {
		return nil, err
	}
	svc.orch = orch
	return svc, nil
}

// StartRun creates a run record and drives the ticket until it completes,
// parks or fails. A failed run is returned together with its *pipeline.RunError.
func (s *PipelineService) StartRun(ctx context.Context, input StartRunInput) (*domain.PipelineRun, error) {
	if err := validateStartInput(input); err != nil {
		return nil, err
	}

	state := domain.NewTicketState(
		strings.TrimSpace(input.TicketID),
		strings.TrimSpace(input.CustomerName),
		strings.TrimSpace(input.Email),
		input.Query,
		input.Priority,
	)
	state.CustomerReply = input.CustomerReply

	run := &domain.PipelineRun{
		ID:       uuid.NewString(),
		TicketID: state.TicketID,
		Status:   domain.RunStatusRunning,
		State:    *state.Clone(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	ctx = withActor(ctx, input.Actor)
	s.publish(ctx, events.EventRunStarted, run.ID, run.TicketID, events.RunStartedPayload{
		CustomerName: state.CustomerName,
		Priority:     state.Priority,
	})

	res, err := s.orch.Run(ctx, run.ID, state)
	return s.finish(ctx, run, res, err)
}

// ResumeRun continues a parked run with the customer's reply.
func (s *PipelineService) ResumeRun(ctx context.Context, runID, reply string, actor events.Actor) (*domain.PipelineRun, error) {
	if strings.TrimSpace(reply) == "" {
		return nil, apperrors.NewValidationError("reply is required", map[string]any{"field": "reply"})
	}
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusParked {
		return nil, apperrors.NewConflict("run is not waiting for a reply", map[string]any{
			"run_id": runID,
			"status": string(run.Status),
		})
	}

	if err := s.runs.Transition(ctx, run.ID, domain.RunStatusParked, domain.RunStatusRunning); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatusRunning

	ctx = withActor(ctx, actor)
	var next domain.StageName
	if run.NextStage != nil {
		next = *run.NextStage
	}
	s.publish(ctx, events.EventRunResumed, run.ID, run.TicketID, events.RunResumedPayload{NextStage: next})

	res, err := s.orch.Resume(ctx, runID, reply)
	var runErr *pipeline.RunError
	if err != nil && !errors.As(err, &runErr) {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return s.expire(ctx, run, next, err)
		}
		if terr := s.runs.Transition(context.WithoutCancel(ctx), run.ID, domain.RunStatusRunning, domain.RunStatusParked); terr != nil {
			s.logger.Error("release resumed run", zap.String("run_id", run.ID), zap.Error(terr))
		}
		return nil, err
	}
	return s.finish(ctx, run, res, err)
}

// expire fails a run whose checkpoint is gone so that it does not stay
// parked with nothing left to resume.
func (s *PipelineService) expire(ctx context.Context, run *domain.PipelineRun, next domain.StageName, cause error) (*domain.PipelineRun, error) {
	persistCtx := context.WithoutCancel(ctx)
	expired := apperrors.NewCheckpointExpired(run.ID, cause)

	run.Status = domain.RunStatusFailed
	run.NextStage = nil
	if next != "" {
		run.FailedStage = &next
	}
	run.ErrorCode = apperrors.CodeCheckpointExpired
	run.ErrorMessage = expired.Error()
	if err := s.runs.Update(persistCtx, run); err != nil {
		s.logger.Error("persist expired run", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.logger.Warn("run checkpoint expired", zap.String("run_id", run.ID), zap.String("next_stage", string(next)))
	s.recordRun(run.Status)
	s.publish(persistCtx, events.EventRunFailed, run.ID, run.TicketID, events.RunFailedPayload{
		Stage:     next,
		ErrorCode: apperrors.CodeCheckpointExpired,
		Message:   run.ErrorMessage,
	})
	return run, expired
}

// GetRun loads a run record.
func (s *PipelineService) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	return s.runs.GetByID(ctx, runID)
}

// ListRuns returns every run recorded for a ticket, oldest first.
func (s *PipelineService) ListRuns(ctx context.Context, ticketID string) ([]domain.PipelineRun, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("ticket_id is required", map[string]any{"field": "ticket_id"})
	}
	return s.runs.ListByTicket(ctx, ticketID)
}

// ListHistory returns the stage executions of a run in order.
func (s *PipelineService) ListHistory(ctx context.Context, runID string) ([]domain.StageHistory, error) {
	if _, err := s.runs.GetByID(ctx, runID); err != nil {
		return nil, err
	}
	return s.history.ListByRun(ctx, runID)
}

func (s *PipelineService) finish(ctx context.Context, run *domain.PipelineRun, res *pipeline.Result, runErr error) (*domain.PipelineRun, error) {
	persistCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		var failure *pipeline.RunError
		if !errors.As(runErr, &failure) {
			return nil, runErr
		}
		stage := failure.Stage
		run.Status = domain.RunStatusFailed
		run.FailedStage = &stage
		run.NextStage = nil
		run.ErrorCode = failure.Kind
		run.ErrorMessage = failure.Err.Error()
		run.State = *failure.State
		run.Trace = failure.Trace
		if err := s.runs.Update(persistCtx, run); err != nil {
			s.logger.Error("persist failed run", zap.String("run_id", run.ID), zap.Error(err))
		}
		s.recordRun(run.Status)
		s.publish(persistCtx, events.EventRunFailed, run.ID, run.TicketID, events.RunFailedPayload{
			Stage:     stage,
			ErrorCode: failure.Kind,
			Message:   run.ErrorMessage,
		})
		return run, runErr
	}

	run.Status = res.Status
	run.State = *res.State.Clone()
	run.Trace = res.Trace
	run.NextStage = nil
	if res.Status == domain.RunStatusParked {
		next := res.NextStage
		run.NextStage = &next
	}
	if err := s.runs.Update(persistCtx, run); err != nil {
		return nil, err
	}
	s.recordRun(run.Status)
	return run, nil
}

// BeforeStage implements pipeline.Observer.
func (s *PipelineService) BeforeStage(context.Context, string, domain.StageName) {}

// AfterStage records a completed stage.
func (s *PipelineService) AfterStage(ctx context.Context, report pipeline.StageReport) {
	persistCtx := context.WithoutCancel(ctx)
	s.appendHistory(persistCtx, &domain.StageHistory{
		RunID:         report.RunID,
		Stage:         report.Stage,
		Outcome:       domain.StageOutcomeCompleted,
		FieldsWritten: report.FieldsWritten,
		Duration:      report.Duration,
	})
	s.recordStage(report.Stage, domain.StageOutcomeCompleted, report.Duration)

	ticketID := report.State.TicketID
	s.publish(persistCtx, events.EventStageCompleted, report.RunID, ticketID, events.StageCompletedPayload{
		Stage:         report.Stage,
		FieldsWritten: report.FieldsWritten,
		DurationMs:    report.Duration.Milliseconds(),
	})

	if report.Stage == domain.StageDecide && report.State.Decision != nil && report.State.Decision.Escalated {
		s.publish(persistCtx, events.EventTicketEscalated, report.RunID, ticketID, events.TicketEscalatedPayload{
			Score:     report.State.Decision.Score,
			Threshold: decision.Threshold,
			Email:     report.State.Email,
		})
	}
}

// StageFailed records the failing stage.
func (s *PipelineService) StageFailed(ctx context.Context, report pipeline.StageReport) {
	entry := &domain.StageHistory{
		RunID:    report.RunID,
		Stage:    report.Stage,
		Outcome:  domain.StageOutcomeFailed,
		Duration: report.Duration,
	}
	var runErr *pipeline.RunError
	if errors.As(report.Err, &runErr) {
		entry.ErrorCode = runErr.Kind
	}
	s.appendHistory(context.WithoutCancel(ctx), entry)
	s.recordStage(report.Stage, domain.StageOutcomeFailed, report.Duration)
}

// RunParked records the suspension point.
func (s *PipelineService) RunParked(ctx context.Context, cp *pipeline.Checkpoint) {
	persistCtx := context.WithoutCancel(ctx)
	s.appendHistory(persistCtx, &domain.StageHistory{
		RunID:   cp.RunID,
		Stage:   cp.NextStage,
		Outcome: domain.StageOutcomeParked,
	})
	s.recordStage(cp.NextStage, domain.StageOutcomeParked, 0)

	payload := events.RunParkedPayload{NextStage: cp.NextStage}
	if cp.State.Clarification != nil {
		payload.Clarification = *cp.State.Clarification
	}
	s.publish(persistCtx, events.EventRunParked, cp.RunID, cp.State.TicketID, payload)
}

// RunCompleted announces the final payload.
func (s *PipelineService) RunCompleted(ctx context.Context, res *pipeline.Result) {
	payload := events.RunCompletedPayload{}
	if res.State.Decision != nil {
		payload.Outcome = res.State.Decision.Outcome()
	}
	if res.State.FinalStatus != nil {
		payload.FinalStatus = *res.State.FinalStatus
	}
	if res.State.Response != nil {
		payload.Response = *res.State.Response
	}
	s.publish(context.WithoutCancel(ctx), events.EventRunCompleted, res.RunID, res.State.TicketID, payload)
}

func (s *PipelineService) appendHistory(ctx context.Context, entry *domain.StageHistory) {
	entry.ID = uuid.NewString()
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Error("persist stage history",
			zap.String("run_id", entry.RunID),
			zap.String("stage", string(entry.Stage)),
			zap.Error(err))
	}
}

func (s *PipelineService) publish(ctx context.Context, eventType events.EventType, runID, ticketID string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     runID,
		TicketID:  ticketID,
		Actor:     actorFromContext(ctx),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (s *PipelineService) recordStage(stage domain.StageName, outcome domain.StageOutcome, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordStage(string(stage), string(outcome), d)
	}
}

func (s *PipelineService) recordRun(status domain.RunStatus) {
	if s.recorder != nil {
		s.recorder.RecordRun(string(status))
	}
}

func validateStartInput(input StartRunInput) error {
	required := []struct {
		name  string
		value string
	}{
		{"ticket_id", input.TicketID},
		{"customer_name", input.CustomerName},
		{"email", input.Email},
		{"query", input.Query},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return apperrors.NewValidationError(field.name+" is required", map[string]any{"field": field.name})
		}
	}
	if !strings.Contains(input.Email, "@") {
		return apperrors.NewValidationError("email is invalid", map[string]any{"field": "email"})
	}
	return nil
}

type actorKey struct{}

func withActor(ctx context.Context, actor events.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) events.Actor {
	actor, _ := ctx.Value(actorKey{}).(events.Actor)
	return actor
}
