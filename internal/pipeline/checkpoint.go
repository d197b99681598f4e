package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/ticket-agent/internal/domain"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// Checkpoint is a parked run: the state so far and the stage to run next.
type Checkpoint struct {
	RunID     string              `json:"run_id"`
	NextStage domain.StageName    `json:"next_stage"`
	State     *domain.TicketState `json:"state"`
	Trace     []domain.StageName  `json:"trace"`
	ParkedAt  time.Time           `json:"parked_at"`
}

// CheckpointStore persists parked runs until the customer replies.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, runID string) (*Checkpoint, error)
	// Take loads and removes the checkpoint in one step. Of two callers
	// racing on the same run, only one gets the checkpoint.
	Take(ctx context.Context, runID string) (*Checkpoint, error)
}

// NewCheckpointNotFound is returned by stores for an unknown run.
func NewCheckpointNotFound(runID string) error {
	return apperrors.NewNotFound("checkpoint", map[string]any{"run_id": runID})
}

// MemoryCheckpointStore keeps checkpoints in process.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	items map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{items: make(map[string]*Checkpoint)}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cp.RunID] = cloneCheckpoint(cp)
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.items[runID]
	if !ok {
		return nil, NewCheckpointNotFound(runID)
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemoryCheckpointStore) Take(_ context.Context, runID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.items[runID]
	if !ok {
		return nil, NewCheckpointNotFound(runID)
	}
	delete(s.items, runID)
	return cp, nil
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.State = cp.State.Clone()
	out.Trace = append([]domain.StageName(nil), cp.Trace...)
	return &out
}
