package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// RunRepository encapsulates pipeline run persistence.
type RunRepository interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Update(ctx context.Context, run *domain.PipelineRun) error
	// Transition moves a run from one status to another only if it is
	// still in from. A run in any other status yields a conflict.
	Transition(ctx context.Context, id string, from, to domain.RunStatus) error
	GetByID(ctx context.Context, id string) (*domain.PipelineRun, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.PipelineRun, error)
}

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository instantiates the Postgres-backed repository.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	const query = `
        INSERT INTO pipeline_runs (id, ticket_id, status, state, trace, next_stage, failed_stage, error_code, error_message)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		run.ID,
		run.TicketID,
		string(run.Status),
		run.State,
		stageNames(run.Trace),
		stagePtr(run.NextStage),
		stagePtr(run.FailedStage),
		run.ErrorCode,
		run.ErrorMessage,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (r *runRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	const query = `
        UPDATE pipeline_runs SET status=$1, state=$2, trace=$3, next_stage=$4, failed_stage=$5,
            error_code=$6, error_message=$7, updated_at=NOW()
        WHERE id=$8
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		string(run.Status),
		run.State,
		stageNames(run.Trace),
		stagePtr(run.NextStage),
		stagePtr(run.FailedStage),
		run.ErrorCode,
		run.ErrorMessage,
		run.ID,
	).Scan(&run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return runNotFound(run.ID)
	}
	return err
}

func (r *runRepository) Transition(ctx context.Context, id string, from, to domain.RunStatus) error {
	const query = `
        UPDATE pipeline_runs SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	tag, err := r.pool.Exec(ctx, query, string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return statusConflict(id, from, current.Status)
}

func (r *runRepository) GetByID(ctx context.Context, id string) (*domain.PipelineRun, error) {
	const query = `
        SELECT id, ticket_id, status, state, trace, next_stage, failed_stage, error_code, error_message, created_at, updated_at
        FROM pipeline_runs WHERE id=$1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.PipelineRun, error) {
	const query = `
        SELECT id, ticket_id, status, state, trace, next_stage, failed_stage, error_code, error_message, created_at, updated_at
        FROM pipeline_runs WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var (
		run         domain.PipelineRun
		status      string
		trace       []string
		nextStage   *string
		failedStage *string
	)
	if err := row.Scan(
		&run.ID,
		&run.TicketID,
		&status,
		&run.State,
		&trace,
		&nextStage,
		&failedStage,
		&run.ErrorCode,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	for _, name := range trace {
		run.Trace = append(run.Trace, domain.StageName(name))
	}
	run.NextStage = toStagePtr(nextStage)
	run.FailedStage = toStagePtr(failedStage)
	return &run, nil
}

func stageNames(stages []domain.StageName) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s))
	}
	return out
}

func stagePtr(stage *domain.StageName) *string {
	if stage == nil {
		return nil
	}
	v := string(*stage)
	return &v
}

func toStagePtr(v *string) *domain.StageName {
	if v == nil {
		return nil
	}
	stage := domain.StageName(*v)
	return &stage
}

func statusConflict(id string, want, got domain.RunStatus) error {
	return apperrors.NewConflict("run status changed", map[string]any{
		"run_id":   id,
		"expected": string(want),
		"status":   string(got),
	})
}

func runNotFound(id string) error {
	return apperrors.NewNotFound("pipeline run", map[string]any{"run_id": id})
}
