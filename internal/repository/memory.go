package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// MemoryRunRepository keeps runs in process. Used when no database is configured
// and by tests.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.PipelineRun
	now  func() time.Time
}

// NewMemoryRunRepository creates an empty repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[string]domain.PipelineRun), now: time.Now}
}

func (r *MemoryRunRepository) Create(_ context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	r.runs[run.ID] = copyRun(*run)
	return nil
}

func (r *MemoryRunRepository) Update(_ context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.runs[run.ID]
	if !ok {
		return runNotFound(run.ID)
	}
	run.CreatedAt = existing.CreatedAt
	run.UpdatedAt = r.now().UTC()
	r.runs[run.ID] = copyRun(*run)
	return nil
}

func (r *MemoryRunRepository) Transition(_ context.Context, id string, from, to domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return runNotFound(id)
	}
	if run.Status != from {
		return statusConflict(id, from, run.Status)
	}
	run.Status = to
	run.UpdatedAt = r.now().UTC()
	r.runs[id] = run
	return nil
}

func (r *MemoryRunRepository) GetByID(_ context.Context, id string) (*domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, runNotFound(id)
	}
	out := copyRun(run)
	return &out, nil
}

func (r *MemoryRunRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.PipelineRun
	for _, run := range r.runs {
		if run.TicketID == ticketID {
			result = append(result, copyRun(run))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func copyRun(run domain.PipelineRun) domain.PipelineRun {
	out := run
	out.State = *run.State.Clone()
	out.Trace = append([]domain.StageName(nil), run.Trace...)
	return out
}

// MemoryStageHistoryRepository keeps stage history in process.
type MemoryStageHistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.StageHistory
}

// NewMemoryStageHistoryRepository creates an empty repository.
func NewMemoryStageHistoryRepository() *MemoryStageHistoryRepository {
	return &MemoryStageHistoryRepository{entries: make(map[string][]domain.StageHistory)}
}

func (r *MemoryStageHistoryRepository) Create(_ context.Context, history *domain.StageHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history.CreatedAt = time.Now().UTC()
	entry := *history
	entry.FieldsWritten = append([]string(nil), history.FieldsWritten...)
	r.entries[history.RunID] = append(r.entries[history.RunID], entry)
	return nil
}

func (r *MemoryStageHistoryRepository) ListByRun(_ context.Context, runID string) ([]domain.StageHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.StageHistory(nil), r.entries[runID]...), nil
}
