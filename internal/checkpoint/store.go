package checkpoint

import (
	"context"
	"errors"

	"thesis-backend/internal/thesis"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a run.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned when the stored version moved since the state was loaded.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// Store persists orchestration state between invocations.
//
// Save is optimistic: state.Version must equal the stored version (0 for a new
// run). The saved state is returned with its new version and timestamps.
type Store interface {
	Save(ctx context.Context, state thesis.State) (thesis.State, error)
	Load(ctx context.Context, runID string) (thesis.State, error)
}
