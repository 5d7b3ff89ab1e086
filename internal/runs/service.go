package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/plan"
	"thesis-backend/internal/queue"
	"thesis-backend/internal/shared/metrics"
	"thesis-backend/internal/shared/storage/object"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

const defaultMaxSteps = 200

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoPendingReview  = errors.New("no review pending for run")
	ErrDocumentNotReady = errors.New("document not compiled yet")
)

// Engine is the subset of the orchestrator the run service drives.
type Engine interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (thesis.State, error)
	View(ctx context.Context, runID string) (thesis.State, error)
	Step(ctx context.Context, runID string) (orchestrator.Outcome, error)
	SubmitReview(ctx context.Context, runID string, resp thesis.HumanResponse) (thesis.State, error)
}

var _ Engine = (*orchestrator.Orchestrator)(nil)

// Service hosts runs: it creates them, drives them between suspensions and
// relays review decisions.
type Service struct {
	Engine    Engine
	Queue     queue.Client
	Documents object.ObjectStore
	// Persona is used when a create request does not carry one.
	Persona string
	// MaxSteps caps one Drive call so a misbehaving run cannot spin forever.
	MaxSteps int
	// AutoAdvance drives the run after every accepted review response.
	AutoAdvance bool

	group singleflight.Group
	wg    sync.WaitGroup
	now   func() time.Time
}

// CreateRequest starts a new run from a plan.
type CreateRequest struct {
	RunID    string
	Persona  string
	Sections []plan.SectionSpec
}

// DriveResult summarizes one Drive call.
type DriveResult struct {
	State     thesis.State
	Steps     int
	Suspended bool
	Completed bool
	// Capped is true when the loop stopped at MaxSteps.
	Capped bool
}

// AdvanceResult tells the caller how a drive was scheduled.
type AdvanceResult struct {
	RunID     string `json:"runId"`
	Mode      string `json:"mode"`
	RequestID string `json:"requestId,omitempty"`
}

const (
	AdvanceQueued     = "queued"
	AdvanceBackground = "background"
	AdvanceNoop       = "noop"
)

// ReviewView is the open review of a suspended run.
type ReviewView struct {
	RunID           string                   `json:"runId"`
	Interrupt       *thesis.InterruptPayload `json:"interrupt"`
	ResponsePending bool                     `json:"responsePending"`
}

// Create validates the plan sections and writes the first checkpoint.
func (s *Service) Create(ctx context.Context, req CreateRequest) (thesis.State, error) {
	persona := strings.TrimSpace(req.Persona)
	if persona == "" {
		persona = s.Persona
	}
	p, err := plan.Plan{Persona: persona, Sections: req.Sections}.Normalized()
	if err != nil {
		return thesis.State{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	st, err := s.Engine.Start(ctx, orchestrator.StartRequest{
		RunID:   strings.TrimSpace(req.RunID),
		Persona: p.Persona,
		Outline: p.Outline(),
	})
	if err != nil {
		return thesis.State{}, err
	}
	metrics.IncRunStarted()
	return st, nil
}

// Get returns the latest checkpoint of a run.
func (s *Service) Get(ctx context.Context, runID string) (thesis.State, error) {
	if strings.TrimSpace(runID) == "" {
		return thesis.State{}, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	return s.Engine.View(ctx, runID)
}

// StepOnce performs a single orchestrator step.
func (s *Service) StepOnce(ctx context.Context, runID string) (orchestrator.Outcome, error) {
	if strings.TrimSpace(runID) == "" {
		return orchestrator.Outcome{}, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	return s.Engine.Step(ctx, runID)
}

// Drive steps a run until it suspends for review, completes, fails or hits
// MaxSteps. Concurrent calls for the same run share one loop.
func (s *Service) Drive(ctx context.Context, runID string) (DriveResult, error) {
	if strings.TrimSpace(runID) == "" {
		return DriveResult{}, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	for {
		v, err, shared := s.group.Do(runID, func() (any, error) {
			return s.drive(ctx, runID)
		})
		res, _ := v.(DriveResult)
		if !shared || err != nil || !res.Suspended {
			return res, err
		}
		telemetry.Info("runs.drive_shared", map[string]any{"run_id": runID})
		// A review accepted while the shared loop was returning its
		// suspension is only consumed by another loop.
		st, err := s.Engine.View(ctx, runID)
		if err != nil {
			return res, err
		}
		if !responseWaiting(st) {
			return res, nil
		}
		telemetry.Info("runs.drive_redrive", map[string]any{"run_id": runID})
	}
}

// responseWaiting reports whether a suspended run holds an accepted
// reviewer decision that no step has consumed yet.
func responseWaiting(st thesis.State) bool {
	if st.Completed || st.NextStep != thesis.StepReview || st.Interrupt == nil {
		return false
	}
	idx := st.SectionIndex(st.Interrupt.SectionID)
	return idx >= 0 && st.Outline[idx].PendingHumanResponse != nil
}

func (s *Service) drive(ctx context.Context, runID string) (DriveResult, error) {
	limit := s.MaxSteps
	if limit <= 0 {
		limit = defaultMaxSteps
	}
	started := s.clock()
	var res DriveResult
	for res.Steps < limit {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := s.Engine.Step(ctx, runID)
		res.Steps++
		if out.State.RunID != "" {
			res.State = out.State
		}
		if err != nil {
			telemetry.Warn("runs.drive_failed", map[string]any{
				"run_id":     runID,
				"steps":      res.Steps,
				"request_id": telemetry.RequestIDFromContext(ctx),
				"err":        err,
			})
			return res, err
		}
		res.Suspended = out.Suspended
		res.Completed = out.Completed
		if out.Suspended || out.Completed {
			break
		}
	}
	if !res.Suspended && !res.Completed && res.Steps >= limit {
		res.Capped = true
		telemetry.Warn("runs.drive_capped", map[string]any{"run_id": runID, "steps": res.Steps})
	}
	telemetry.Info("runs.drive", map[string]any{
		"run_id":      runID,
		"steps":       res.Steps,
		"suspended":   res.Suspended,
		"completed":   res.Completed,
		"duration_ms": s.clock().Sub(started).Milliseconds(),
		"request_id":  telemetry.RequestIDFromContext(ctx),
	})
	return res, nil
}

// Advance schedules a Drive. With a queue the run id is sent to the worker;
// otherwise the drive runs in a background goroutine detached from ctx.
func (s *Service) Advance(ctx context.Context, runID string) (AdvanceResult, error) {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return AdvanceResult{}, err
	}
	reqID := telemetry.RequestIDFromContext(ctx)
	res := AdvanceResult{RunID: st.RunID, RequestID: reqID}
	if st.Completed {
		res.Mode = AdvanceNoop
		return res, nil
	}

	if s.Queue != nil {
		if err := s.Queue.Send(ctx, queue.NewMessage(st.RunID, reqID, s.clock())); err != nil {
			return AdvanceResult{}, fmt.Errorf("enqueue drive: %w", err)
		}
		metrics.IncDriveEnqueued()
		res.Mode = AdvanceQueued
		return res, nil
	}

	bg := telemetry.Detach(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Drive(bg, st.RunID); err != nil {
			telemetry.Error("runs.background_drive_failed", map[string]any{
				"run_id":     st.RunID,
				"request_id": reqID,
				"err":        err,
			})
		}
	}()
	res.Mode = AdvanceBackground
	return res, nil
}

// Wait blocks until every background drive started by Advance has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// PendingReview returns the open review payload of a suspended run.
func (s *Service) PendingReview(ctx context.Context, runID string) (ReviewView, error) {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return ReviewView{}, err
	}
	if st.Interrupt == nil || st.NextStep != thesis.StepReview {
		return ReviewView{}, ErrNoPendingReview
	}
	view := ReviewView{RunID: st.RunID, Interrupt: st.Interrupt}
	if idx := st.SectionIndex(st.Interrupt.SectionID); idx >= 0 {
		view.ResponsePending = st.Outline[idx].PendingHumanResponse != nil
	}
	return view, nil
}

// SubmitReview records a reviewer decision and, when AutoAdvance is set,
// schedules the run to consume it.
func (s *Service) SubmitReview(ctx context.Context, runID string, resp thesis.HumanResponse) (thesis.State, error) {
	if strings.TrimSpace(runID) == "" {
		return thesis.State{}, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	resp.SectionID = strings.TrimSpace(resp.SectionID)
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = s.clock()
	}
	st, err := s.Engine.SubmitReview(ctx, runID, resp)
	if err != nil {
		return thesis.State{}, err
	}
	if s.AutoAdvance {
		if _, err := s.Advance(ctx, runID); err != nil {
			telemetry.Warn("runs.advance_after_review_failed", map[string]any{
				"run_id": runID,
				"err":    err,
			})
		}
	}
	return st, nil
}

// Document formats.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
)

// Document opens the compiled document of a run. The caller closes the reader.
func (s *Service) Document(ctx context.Context, runID, format string) (io.ReadCloser, string, error) {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	if st.Document == nil {
		return nil, "", ErrDocumentNotReady
	}
	if s.Documents == nil {
		return nil, "", errors.New("document store not configured")
	}

	key, contentType := st.Document.MarkdownKey, "text/markdown; charset=utf-8"
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatMarkdown, "markdown":
	case FormatHTML:
		if st.Document.HTMLKey == "" {
			return nil, "", ErrDocumentNotReady
		}
		key, contentType = st.Document.HTMLKey, "text/html; charset=utf-8"
	default:
		return nil, "", fmt.Errorf("%w: unknown format %q", ErrInvalidInput, format)
	}

	rc, err := s.Documents.Open(ctx, key)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, "", ErrDocumentNotReady
		}
		return nil, "", err
	}
	return rc, contentType, nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
