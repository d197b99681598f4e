package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// StageHistoryRepository stores one audit entry per stage execution.
type StageHistoryRepository interface {
	Create(ctx context.Context, history *domain.StageHistory) error
	ListByRun(ctx context.Context, runID string) ([]domain.StageHistory, error)
}

type stageHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewStageHistoryRepository builds the Postgres-backed repository.
func NewStageHistoryRepository(pool *pgxpool.Pool) StageHistoryRepository {
	return &stageHistoryRepository{pool: pool}
}

func (r *stageHistoryRepository) Create(ctx context.Context, history *domain.StageHistory) error {
	const query = `
        INSERT INTO stage_history (id, run_id, stage, outcome, fields_written, error_code, duration_ms)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	fields := history.FieldsWritten
	if fields == nil {
		fields = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		history.ID,
		history.RunID,
		string(history.Stage),
		string(history.Outcome),
		fields,
		history.ErrorCode,
		history.Duration.Milliseconds(),
	).Scan(&history.CreatedAt)
}

func (r *stageHistoryRepository) ListByRun(ctx context.Context, runID string) ([]domain.StageHistory, error) {
	const query = `
        SELECT id, run_id, stage, outcome, fields_written, error_code, duration_ms, created_at
        FROM stage_history WHERE run_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StageHistory
	for rows.Next() {
		var (
			history    domain.StageHistory
			stage      string
			outcome    string
			durationMs int64
		)
		if err := rows.Scan(
			&history.ID,
			&history.RunID,
			&stage,
			&outcome,
			&history.FieldsWritten,
			&history.ErrorCode,
			&durationMs,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		history.Stage = domain.StageName(stage)
		history.Outcome = domain.StageOutcome(outcome)
		history.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, history)
	}
	return result, rows.Err()
}
