package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/observability"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// Result is the outcome of Run or Resume that did not fail.
type Result struct {
	RunID     string
	Status    domain.RunStatus
	State     *domain.TicketState
	Trace     []domain.StageName
	NextStage domain.StageName
}

// RunError aborts a run. State is a snapshot taken before the failing stage
// started, so it holds exactly what earlier stages wrote.
type RunError struct {
	RunID string
	Stage domain.StageName
	Kind  string
	Err   error
	State *domain.TicketState
	// Trace lists the stages that completed before the failure.
	Trace []domain.StageName
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// StageReport describes one finished stage execution.
type StageReport struct {
	RunID         string
	Stage         domain.StageName
	FieldsWritten []string
	Duration      time.Duration
	State         *domain.TicketState
	Err           error
}

// Observer is notified as a run progresses. Implementations must not block
// for long; they run on the pipeline goroutine.
type Observer interface {
	BeforeStage(ctx context.Context, runID string, stage domain.StageName)
	AfterStage(ctx context.Context, report StageReport)
	StageFailed(ctx context.Context, report StageReport)
	RunParked(ctx context.Context, cp *Checkpoint)
	RunCompleted(ctx context.Context, res *Result)
}

// NopObserver can be embedded to implement only some hooks.
type NopObserver struct{}

func (NopObserver) BeforeStage(context.Context, string, domain.StageName) {}
func (NopObserver) AfterStage(context.Context, StageReport) {}
func (NopObserver) StageFailed(context.Context, StageReport) {}
func (NopObserver) RunParked(context.Context, *Checkpoint) {}
func (NopObserver) RunCompleted(context.Context, *Result) {}

// Options configures an Orchestrator.
type Options struct {
	Logger *zap.Logger
	// Checkpoints enables parking at suspending stages. Nil runs straight through.
	Checkpoints CheckpointStore
	Observers   []Observer
}

// Orchestrator executes a validated graph. It holds no per-run state and can
// drive many runs concurrently.
type Orchestrator struct {
	graph       *Graph
	checkpoints CheckpointStore
	observers   []Observer
	logger      *zap.Logger
}

// New validates graph and builds an orchestrator over it.
func New(graph *Graph, opts Options) (*Orchestrator, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline graph: %w", err)
	}
	return &Orchestrator{
		graph:       graph,
		checkpoints: opts.Checkpoints,
		observers:   opts.Observers,
		logger:      observability.OrNop(opts.Logger).Named("pipeline"),
	}, nil
}

// Run executes every stage once, from entry to terminal. An empty runID is
// replaced by a generated one.
func (o *Orchestrator) Run(ctx context.Context, runID string, state *domain.TicketState) (*Result, error) {
	if state == nil {
		return nil, apperrors.NewValidationError("ticket state is required", nil)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	o.logger.Info("run started", zap.String("run_id", runID), zap.String("ticket_id", state.TicketID))
	return o.walk(ctx, runID, o.graph.Entry, state, nil)
}

// Resume continues a parked run with the customer's reply.
func (o *Orchestrator) Resume(ctx context.Context, runID, reply string) (*Result, error) {
	if o.checkpoints == nil {
		return nil, apperrors.NewConflict("pipeline does not suspend", map[string]any{"run_id": runID})
	}
	if strings.TrimSpace(reply) == "" {
		return nil, apperrors.NewValidationError("reply is required", map[string]any{"run_id": runID})
	}
	cp, err := o.checkpoints.Take(ctx, runID)
	if err != nil {
		return nil, err
	}

	state := cp.State
	state.CustomerReply = reply
	o.logger.Info("run resumed", zap.String("run_id", runID), zap.String("next_stage", string(cp.NextStage)))
	return o.walk(ctx, runID, cp.NextStage, state, cp.Trace)
}

func (o *Orchestrator) walk(ctx context.Context, runID string, start domain.StageName, state *domain.TicketState, trace []domain.StageName) (*Result, error) {
	trace = append([]domain.StageName(nil), trace...)
	current := start

	for {
		node, ok := o.graph.Node(current)
		if !ok {
			return nil, o.fail(ctx, runID, current, apperrors.NewInternalError(fmt.Errorf("unknown stage %s", current)), state.Clone(), trace, 0)
		}
		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, runID, current, err, state.Clone(), trace, 0)
		}

		if node.Suspends && o.checkpoints != nil && strings.TrimSpace(state.CustomerReply) == "" {
			return o.park(ctx, runID, current, state, trace)
		}

		snapshot := state.Clone()
		o.notifyBefore(ctx, runID, current)
		started := time.Now()
		next, err := node.Stage.Run(ctx, state)
		elapsed := time.Since(started)
		if err != nil {
			return nil, o.fail(ctx, runID, current, err, snapshot, trace, elapsed)
		}
		if next != nil {
			state = next
		}

		trace = append(trace, current)
		o.notifyAfter(ctx, StageReport{
			RunID:         runID,
			Stage:         current,
			FieldsWritten: newlyWritten(snapshot, state),
			Duration:      elapsed,
			State:         state,
		})

		to, more, err := o.graph.Next(current, state)
		if err != nil {
			return nil, o.fail(ctx, runID, current, apperrors.NewInternalError(err), state.Clone(), trace, 0)
		}
		if !more {
			break
		}
		current = to
	}

	res := &Result{RunID: runID, Status: domain.RunStatusCompleted, State: state, Trace: trace}
	o.logger.Info("run completed", zap.String("run_id", runID), zap.Int("stages", len(trace)))
	for _, obs := range o.observers {
		obs.RunCompleted(ctx, res)
	}
	return res, nil
}

func (o *Orchestrator) park(ctx context.Context, runID string, next domain.StageName, state *domain.TicketState, trace []domain.StageName) (*Result, error) {
	cp := &Checkpoint{
		RunID:     runID,
		NextStage: next,
		State:     state.Clone(),
		Trace:     append([]domain.StageName(nil), trace...),
		ParkedAt:  time.Now().UTC(),
	}
	if err := o.checkpoints.Save(ctx, cp); err != nil {
		return nil, o.fail(ctx, runID, next, apperrors.NewInternalError(fmt.Errorf("save checkpoint: %w", err)), state.Clone(), trace, 0)
	}
	o.logger.Info("run parked", zap.String("run_id", runID), zap.String("next_stage", string(next)))
	for _, obs := range o.observers {
		obs.RunParked(ctx, cp)
	}
	return &Result{
		RunID:     runID,
		Status:    domain.RunStatusParked,
		State:     state,
		Trace:     trace,
		NextStage: next,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, runID string, stage domain.StageName, err error, snapshot *domain.TicketState, trace []domain.StageName, elapsed time.Duration) error {
	runErr := &RunError{
		RunID: runID,
		Stage: stage,
		Kind:  apperrors.CodeOf(err),
		Err:   err,
		State: snapshot,
		Trace: append([]domain.StageName(nil), trace...),
	}
	o.logger.Error("stage failed",
		zap.String("run_id", runID),
		zap.String("stage", string(stage)),
		zap.String("kind", runErr.Kind),
		zap.Error(err))
	report := StageReport{RunID: runID, Stage: stage, Duration: elapsed, State: snapshot, Err: runErr}
	for _, obs := range o.observers {
		obs.StageFailed(ctx, report)
	}
	return runErr
}

func (o *Orchestrator) notifyBefore(ctx context.Context, runID string, stage domain.StageName) {
	for _, obs := range o.observers {
		obs.BeforeStage(ctx, runID, stage)
	}
}

func (o *Orchestrator) notifyAfter(ctx context.Context, report StageReport) {
	for _, obs := range o.observers {
		obs.AfterStage(ctx, report)
	}
}

func newlyWritten(before, after *domain.TicketState) []string {
	var fields []string
	for _, field := range domain.ProgressiveFields {
		if after.Has(field) && !before.Has(field) {
			fields = append(fields, field)
		}
	}
	return fields
}
