package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"thesis-backend/internal/thesis"
)

// PGStore implements Store using Postgres. Every save also appends a row to
// orchestration_checkpoint_history in the same transaction.
type PGStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewPGStore constructs a PGStore.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

// Save writes the state if the stored version still matches.
func (s *PGStore) Save(ctx context.Context, state thesis.State) (thesis.State, error) {
	saved := stamp(state, s.now())
	payload, err := json.Marshal(saved)
	if err != nil {
		return thesis.State{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return thesis.State{}, err
	}
	defer tx.Rollback()

	var res sql.Result
	if state.Version == 0 {
		const insert = `
INSERT INTO orchestration_checkpoints (run_id, version, phase, next_step, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id) DO NOTHING`
		res, err = tx.ExecContext(ctx, insert,
			saved.RunID,
			saved.Version,
			string(saved.Phase()),
			string(saved.NextStep),
			payload,
			saved.CreatedAt,
			saved.UpdatedAt,
		)
	} else {
		const update = `
UPDATE orchestration_checkpoints
SET version = $2, phase = $3, next_step = $4, state = $5, updated_at = $6
WHERE run_id = $1 AND version = $7`
		res, err = tx.ExecContext(ctx, update,
			saved.RunID,
			saved.Version,
			string(saved.Phase()),
			string(saved.NextStep),
			payload,
			saved.UpdatedAt,
			state.Version,
		)
	}
	if err != nil {
		return thesis.State{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return thesis.State{}, err
	}
	if affected == 0 {
		return thesis.State{}, ErrVersionConflict
	}

	const history = `
INSERT INTO orchestration_checkpoint_history (run_id, version, next_step, last_step, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, history,
		saved.RunID,
		saved.Version,
		string(saved.NextStep),
		nullableString(saved.LastStep),
		payload,
		saved.UpdatedAt,
	); err != nil {
		return thesis.State{}, err
	}

	if err := tx.Commit(); err != nil {
		return thesis.State{}, err
	}
	return saved, nil
}

// Load returns the latest checkpoint for runID.
func (s *PGStore) Load(ctx context.Context, runID string) (thesis.State, error) {
	const query = `
SELECT version, state
FROM orchestration_checkpoints
WHERE run_id = $1
LIMIT 1`
	var version int64
	var payload []byte
	err := s.DB.QueryRowContext(ctx, query, runID).Scan(&version, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return thesis.State{}, ErrNotFound
		}
		return thesis.State{}, err
	}
	var st thesis.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return thesis.State{}, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	st.Version = version
	return st, nil
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

var _ Store = (*PGStore)(nil)
