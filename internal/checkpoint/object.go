package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"thesis-backend/internal/shared/storage/object"
	"thesis-backend/internal/shared/util"
	"thesis-backend/internal/thesis"
)

// ObjectStore keeps one JSON blob per run under checkpoints/<run_id>.json.
// Version checks are serialized in-process only, so a single writer per bucket
// prefix is assumed.
type ObjectStore struct {
	objects object.ObjectStore
	mu      sync.Mutex
	now     func() time.Time
}

// NewObjectStore wraps an object store.
func NewObjectStore(objects object.ObjectStore) *ObjectStore {
	return &ObjectStore{objects: objects, now: func() time.Time { return time.Now().UTC() }}
}

// Save writes the state if the stored version still matches.
func (s *ObjectStore) Save(ctx context.Context, state thesis.State) (thesis.State, error) {
	key, err := checkpointKey(state.RunID)
	if err != nil {
		return thesis.State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if state.Version != 0 {
			return thesis.State{}, ErrVersionConflict
		}
	case err != nil:
		return thesis.State{}, err
	case current.Version != state.Version:
		return thesis.State{}, ErrVersionConflict
	}

	saved := stamp(state, s.now())
	payload, err := json.Marshal(saved)
	if err != nil {
		return thesis.State{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.objects.Put(ctx, key, "application/json", bytes.NewReader(payload)); err != nil {
		return thesis.State{}, fmt.Errorf("write checkpoint: %w", err)
	}
	return saved, nil
}

// Load returns the latest checkpoint for runID.
func (s *ObjectStore) Load(ctx context.Context, runID string) (thesis.State, error) {
	key, err := checkpointKey(runID)
	if err != nil {
		return thesis.State{}, err
	}
	return s.read(ctx, key)
}

func (s *ObjectStore) read(ctx context.Context, key string) (thesis.State, error) {
	rc, err := s.objects.Open(ctx, key)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return thesis.State{}, ErrNotFound
		}
		return thesis.State{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return thesis.State{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var st thesis.State
	if err := json.Unmarshal(data, &st); err != nil {
		return thesis.State{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return st, nil
}

func checkpointKey(runID string) (string, error) {
	seg, err := util.SafeSegment(runID)
	if err != nil {
		return "", fmt.Errorf("run id %q: %w", runID, err)
	}
	return path.Join("checkpoints", seg+".json"), nil
}

var _ Store = (*ObjectStore)(nil)
