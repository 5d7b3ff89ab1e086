package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB         Pinger
	Checkpoint string
	LLM        string
}

// NewService constructs a new health service. db may be nil when the
// process runs on in-memory storage.
func NewService(db Pinger, checkpointBackend, llmProvider string) *Service {
	return &Service{DB: db, Checkpoint: checkpointBackend, LLM: llmProvider}
}

// Status is the health payload.
type Status struct {
	OK         bool   `json:"ok"`
	Database   string `json:"database"`
	Checkpoint string `json:"checkpoint,omitempty"`
	LLM        string `json:"llm,omitempty"`
}

// Status reports liveness plus the state of the database connection.
// OK is false only when a configured database does not answer.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{OK: true, Database: "disabled", Checkpoint: s.Checkpoint, LLM: s.LLM}
	if s.DB == nil {
		return st
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		st.OK = false
		st.Database = "unreachable"
		return st
	}
	st.Database = "ok"
	return st
}
