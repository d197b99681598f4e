package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-agent/internal/domain"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

func TestMemoryRunRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryRunRepository()
	ctx := context.Background()

	run := &domain.PipelineRun{
		ID:       "run-1",
		TicketID: "T12345",
		Status:   domain.RunStatusRunning,
		State:    *domain.NewTicketState("T12345", "Alice", "alice@example.com", "q", "high"),
	}
	require.NoError(t, repo.Create(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)

	got.State.CustomerName = "Mallory"
	again, err := repo.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.State.CustomerName, "returned runs are copies")

	run.Status = domain.RunStatusCompleted
	run.Trace = []domain.StageName{domain.StageIntake}
	require.NoError(t, repo.Update(ctx, run))
	got, err = repo.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, []domain.StageName{domain.StageIntake}, got.Trace)

	runs, err := repo.ListByTicket(ctx, "T12345")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMemoryRunRepository_TransitionIsConditional(t *testing.T) {
	repo := NewMemoryRunRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.PipelineRun{
		ID:       "run-2",
		TicketID: "T12345",
		Status:   domain.RunStatusParked,
		State:    *domain.NewTicketState("T12345", "Alice", "alice@example.com", "q", "high"),
	}))

	require.NoError(t, repo.Transition(ctx, "run-2", domain.RunStatusParked, domain.RunStatusRunning))
	got, err := repo.GetByID(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)

	err = repo.Transition(ctx, "run-2", domain.RunStatusParked, domain.RunStatusRunning)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	err = repo.Transition(ctx, "missing", domain.RunStatusParked, domain.RunStatusRunning)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMemoryRunRepository_NotFound(t *testing.T) {
	repo := NewMemoryRunRepository()
	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	err = repo.Update(context.Background(), &domain.PipelineRun{ID: "missing"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMemoryStageHistoryRepository_KeepsInsertionOrder(t *testing.T) {
	repo := NewMemoryStageHistoryRepository()
	ctx := context.Background()
	for _, stage := range []domain.StageName{domain.StageIntake, domain.StageUnderstand} {
		require.NoError(t, repo.Create(ctx, &domain.StageHistory{
			ID:       string(stage),
			RunID:    "run-1",
			Stage:    stage,
			Outcome:  domain.StageOutcomeCompleted,
			Duration: time.Millisecond,
		}))
	}

	entries, err := repo.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.StageIntake, entries[0].Stage)
	assert.Equal(t, domain.StageUnderstand, entries[1].Stage)

	empty, err := repo.ListByRun(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
