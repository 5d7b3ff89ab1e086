package checkpoint

import (
	"context"
	"sync"
	"time"

	"thesis-backend/internal/thesis"
)

// MemoryStore keeps checkpoints in memory and is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	byRun map[string]thesis.State
	now   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRun: make(map[string]thesis.State),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Save stores a copy of state if its version matches.
func (s *MemoryStore) Save(ctx context.Context, state thesis.State) (thesis.State, error) {
	if err := ctx.Err(); err != nil {
		return thesis.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.byRun[state.RunID]
	switch {
	case !exists && state.Version != 0:
		return thesis.State{}, ErrVersionConflict
	case exists && current.Version != state.Version:
		return thesis.State{}, ErrVersionConflict
	}

	saved := stamp(state, s.now())
	s.byRun[state.RunID] = saved.Clone()
	return saved, nil
}

// Load returns a copy of the latest checkpoint for runID.
func (s *MemoryStore) Load(ctx context.Context, runID string) (thesis.State, error) {
	if err := ctx.Err(); err != nil {
		return thesis.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byRun[runID]
	if !ok {
		return thesis.State{}, ErrNotFound
	}
	return st.Clone(), nil
}

func stamp(state thesis.State, now time.Time) thesis.State {
	out := state.Clone()
	out.Version = state.Version + 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}

var _ Store = (*MemoryStore)(nil)
