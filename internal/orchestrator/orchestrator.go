package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"thesis-backend/internal/checkpoint"
	"thesis-backend/internal/shared/metrics"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     checkpoint.Store
	Retriever Retriever
	Drafter   Drafter
	Critic    Critic
	Compiler  Compiler
}

// Orchestrator runs the section lifecycle one step per invocation, loading and
// saving a checkpoint around every step.
type Orchestrator struct {
	store     checkpoint.Store
	retriever Retriever
	drafter   Drafter
	critic    Critic
	compiler  Compiler
	opts      Options
	now       func() time.Time
	newID     func() string
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: checkpoint store is required")
	}
	if deps.Drafter == nil || deps.Critic == nil {
		return nil, errors.New("orchestrator: drafter and critic are required")
	}
	if opts.MaxReflectionAttempts < 0 {
		return nil, fmt.Errorf("orchestrator: max reflection attempts must be >= 0, got %d", opts.MaxReflectionAttempts)
	}
	return &Orchestrator{
		store:     deps.Store,
		retriever: deps.Retriever,
		drafter:   deps.Drafter,
		critic:    deps.Critic,
		compiler:  deps.Compiler,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// Options returns the options the orchestrator was built with.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// StartRequest creates a run.
type StartRequest struct {
	RunID   string
	Persona string
	Outline []thesis.Section
}

// Start validates the outline and writes the first checkpoint. Sections keep
// their planning metadata only; lifecycle fields start fresh.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (thesis.State, error) {
	if len(req.Outline) == 0 {
		return thesis.State{}, ErrEmptyOutline
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = o.newID()
	}

	seen := make(map[string]struct{}, len(req.Outline))
	outline := make([]thesis.Section, 0, len(req.Outline))
	for i, s := range req.Outline {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return thesis.State{}, fmt.Errorf("section %d: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return thesis.State{}, fmt.Errorf("section %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		outline = append(outline, thesis.Section{
			ID:                  id,
			Title:               s.Title,
			Level:               s.Level,
			Objectives:          s.Objectives,
			RequirementsSummary: s.RequirementsSummary,
			KeyQuestions:        s.KeyQuestions,
			StyleNotes:          s.StyleNotes,
			Keywords:            s.Keywords,
			Status:              thesis.StatusPending,
		})
	}

	st := thesis.State{
		RunID:    runID,
		Persona:  req.Persona,
		Outline:  outline,
		NextStep: thesis.StepRoute,
	}
	saved, err := o.store.Save(ctx, st)
	if err != nil {
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			return thesis.State{}, fmt.Errorf("%w: %s", ErrRunExists, runID)
		}
		return thesis.State{}, err
	}
	telemetry.Info("orchestrator.run_started", map[string]any{
		"run_id":   saved.RunID,
		"sections": len(saved.Outline),
	})
	return saved, nil
}

// View returns the latest checkpoint for a run.
func (o *Orchestrator) View(ctx context.Context, runID string) (thesis.State, error) {
	return o.store.Load(ctx, runID)
}

// Outcome describes one Step invocation.
type Outcome struct {
	State     thesis.State
	Performed thesis.Step
	Decision  *Decision
	Review    ReviewOutcome
	// Suspended is true while the run waits for a human response.
	Suspended bool
	Completed bool
}

// Step loads the run, performs exactly one step and checkpoints the result.
// Only input and lookup errors (and an inconsistent outline when the fallback
// is disabled) are returned as run-level errors; section failures are recorded
// on the section and the returned error is nil.
func (o *Orchestrator) Step(ctx context.Context, runID string) (Outcome, error) {
	st, err := o.store.Load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if st.Completed {
		return Outcome{State: st, Performed: thesis.StepDone, Completed: true}, nil
	}
	if waitingForHuman(st) {
		return Outcome{State: st, Performed: thesis.StepReview, Review: ReviewSuspended, Suspended: true}, nil
	}

	started := time.Now()
	step := st.NextStep
	if step == "" {
		step = thesis.StepRoute
	}

	var (
		patch thesis.Patch
		out   = Outcome{Performed: step}
	)
	switch step {
	case thesis.StepRoute:
		patch, err = o.route(ctx, st, &out)
	case thesis.StepDraft:
		patch, err = o.draft(ctx, st)
	case thesis.StepCritique:
		patch, err = o.critique(ctx, st)
	case thesis.StepReview:
		patch, err = o.review(st, &out)
	case thesis.StepDone:
		patch = thesis.Patch{Completed: thesis.BoolPtr(true)}
	default:
		err = fmt.Errorf("%w: unknown next step %q", ErrMissingRouting, step)
	}

	fields := map[string]any{
		"run_id":       runID,
		"step":         string(step),
		"version":      st.Version,
		"router_index": st.RouterIndex,
	}
	if err != nil && !errors.Is(err, ErrCompile) {
		metrics.IncStepFailure()
		fields["err"] = err
		telemetry.Error("orchestrator.step_failed", fields)
		return Outcome{State: st, Performed: step}, err
	}
	compileErr := err

	patch.LastStep = stepLabel(step)
	next, err := st.Apply(patch)
	if err != nil {
		metrics.IncStepFailure()
		return Outcome{State: st, Performed: step}, err
	}
	saved, err := o.store.Save(ctx, next)
	if err != nil {
		metrics.IncStepFailure()
		fields["err"] = err
		telemetry.Error("orchestrator.checkpoint_failed", fields)
		return Outcome{State: st, Performed: step}, err
	}

	metrics.IncStep()
	metrics.ObserveStepDurationMs(metrics.SinceMillis(started))
	o.logStep(st, saved, step, fields)

	out.State = saved
	out.Suspended = waitingForHuman(saved)
	out.Completed = saved.Completed
	return out, compileErr
}

// SubmitReview records a human decision for the section under review. The
// decision is applied by the next Step. Only one response may wait at a time.
func (o *Orchestrator) SubmitReview(ctx context.Context, runID string, resp thesis.HumanResponse) (thesis.State, error) {
	if strings.TrimSpace(string(resp.Action)) == "" {
		return thesis.State{}, fmt.Errorf("%w: action is required", ErrInvalidResponse)
	}
	resp.Action = thesis.NormalizeAction(string(resp.Action))
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = o.now()
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		st, err := o.store.Load(ctx, runID)
		if err != nil {
			return thesis.State{}, err
		}
		if st.Completed {
			return thesis.State{}, ErrRunCompleted
		}
		if st.Interrupt == nil || st.NextStep != thesis.StepReview {
			return thesis.State{}, ErrNotAwaitingReview
		}
		if resp.SectionID == "" {
			resp.SectionID = st.Interrupt.SectionID
		}
		if resp.SectionID != st.Interrupt.SectionID {
			return thesis.State{}, fmt.Errorf("%w: review is open for %q", ErrNotAwaitingReview, st.Interrupt.SectionID)
		}
		idx, sec, err := currentSection(st)
		if err != nil {
			return thesis.State{}, err
		}
		if sec.PendingHumanResponse != nil {
			return thesis.State{}, ErrResponseAlreadyPending
		}

		r := resp
		sec.PendingHumanResponse = &r
		next, err := st.Apply(thesis.Patch{Section: &thesis.SectionUpdate{Index: idx, Section: sec}})
		if err != nil {
			return thesis.State{}, err
		}
		saved, err := o.store.Save(ctx, next)
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return thesis.State{}, err
		}
		telemetry.Info("orchestrator.review_submitted", map[string]any{
			"run_id":     runID,
			"section_id": resp.SectionID,
			"action":     string(resp.Action),
			"reviewer":   resp.Reviewer,
		})
		return saved, nil
	}
	return thesis.State{}, lastErr
}

func (o *Orchestrator) route(ctx context.Context, st thesis.State, out *Outcome) (thesis.Patch, error) {
	d := Route(st.Outline, st.RouterIndex, o.opts.routeOptions())
	out.Decision = &d

	switch d.Action {
	case ActionFatal:
		return thesis.Patch{}, d.Err

	case ActionCompile:
		patch := thesis.Patch{RouterIndex: thesis.IntPtr(d.RouterIndex), ClearInterrupt: true}
		if d.Warning != "" {
			metrics.IncRouterInconsistent()
			telemetry.Warn("orchestrator.inconsistent_outline", map[string]any{
				"run_id":  st.RunID,
				"warning": d.Warning,
			})
			patch.Warning = thesis.StringPtr(d.Warning)
		}
		if o.compiler != nil {
			ref, err := o.compiler.Compile(ctx, st)
			if err != nil {
				msg := fmt.Sprintf("compile failed: %v", err)
				patch.Warning = thesis.StringPtr(strings.TrimSpace(d.Warning + " " + msg))
				patch.NextStep = thesis.StepPtr(thesis.StepRoute)
				return patch, fmt.Errorf("%w: %v", ErrCompile, err)
			}
			patch.Document = &ref
			metrics.IncRunCompiled()
		}
		patch.Completed = thesis.BoolPtr(true)
		patch.NextStep = thesis.StepPtr(thesis.StepDone)
		return patch, nil
	}

	sec := st.Outline[d.SectionIndex]
	updated, err := RetrieveContext(ctx, sec, o.retriever, o.opts)
	next := thesis.StepDraft
	if err != nil {
		metrics.IncSectionFailed()
		telemetry.Warn("orchestrator.section_failed", map[string]any{
			"run_id":     st.RunID,
			"section_id": sec.ID,
			"phase":      "context",
			"err":        err,
		})
		next = thesis.StepRoute
	}
	return thesis.Patch{
		RouterIndex:         thesis.IntPtr(d.RouterIndex),
		CurrentSectionID:    thesis.StringPtr(d.SectionID),
		CurrentSectionIndex: thesis.IntPtr(d.SectionIndex),
		NextStep:            thesis.StepPtr(next),
		Section:             &thesis.SectionUpdate{Index: d.SectionIndex, Section: updated},
		Warning:             thesis.StringPtr(""),
	}, nil
}

func (o *Orchestrator) draft(ctx context.Context, st thesis.State) (thesis.Patch, error) {
	idx, sec, err := currentSection(st)
	if err != nil {
		return thesis.Patch{}, err
	}
	res, derr := DraftOrRevise(ctx, sec, st.Persona, o.drafter, o.opts)

	next := thesis.StepCritique
	switch {
	case derr != nil:
		metrics.IncSectionFailed()
		telemetry.Warn("orchestrator.section_failed", map[string]any{
			"run_id":     st.RunID,
			"section_id": sec.ID,
			"phase":      string(res.Mode),
			"err":        derr,
		})
		next = thesis.StepRoute
	case res.ForcedReview:
		telemetry.Info("orchestrator.reflection_bound", map[string]any{
			"run_id":     st.RunID,
			"section_id": sec.ID,
			"attempts":   sec.ReflectionAttempts,
		})
		next = thesis.StepReview
	}
	return thesis.Patch{
		NextStep: thesis.StepPtr(next),
		Section:  &thesis.SectionUpdate{Index: idx, Section: res.Section},
	}, nil
}

func (o *Orchestrator) critique(ctx context.Context, st thesis.State) (thesis.Patch, error) {
	idx, sec, err := currentSection(st)
	if err != nil {
		return thesis.Patch{}, err
	}
	res, cerr := CritiqueDraft(ctx, sec, o.critic, o.opts)
	if cerr != nil {
		metrics.IncSectionFailed()
		telemetry.Warn("orchestrator.section_failed", map[string]any{
			"run_id":     st.RunID,
			"section_id": sec.ID,
			"phase":      "critique",
			"err":        cerr,
		})
	}
	if res.ForcedReview {
		telemetry.Info("orchestrator.reflection_bound", map[string]any{
			"run_id":     st.RunID,
			"section_id": sec.ID,
			"attempts":   sec.ReflectionAttempts,
		})
	}
	return thesis.Patch{
		NextStep: thesis.StepPtr(res.Next),
		Section:  &thesis.SectionUpdate{Index: idx, Section: res.Section},
	}, nil
}

func (o *Orchestrator) review(st thesis.State, out *Outcome) (thesis.Patch, error) {
	idx, sec, err := currentSection(st)
	if err != nil {
		return thesis.Patch{}, err
	}
	res := Review(sec, idx)
	out.Review = res.Outcome

	patch := thesis.Patch{
		RouterIndex:    thesis.IntPtr(res.RouterIndex),
		Section:        &thesis.SectionUpdate{Index: idx, Section: res.Section},
		ClearInterrupt: true,
	}
	switch res.Outcome {
	case ReviewSuspended:
		metrics.IncReviewSuspended()
		patch.Interrupt = res.Interrupt
		patch.NextStep = thesis.StepPtr(thesis.StepReview)
	case ReviewRejected:
		metrics.IncReviewRejected()
		patch.NextStep = thesis.StepPtr(thesis.StepReview)
	case ReviewApproved:
		metrics.IncSectionApproved()
		patch.NextStep = thesis.StepPtr(thesis.StepRoute)
	case ReviewFailed:
		metrics.IncSectionFailed()
		patch.NextStep = thesis.StepPtr(thesis.StepRoute)
	default:
		patch.NextStep = thesis.StepPtr(thesis.StepRoute)
	}
	return patch, nil
}

// currentSection resolves the section the run is working on. The stored index
// is trusted only when it still points at the stored id.
func currentSection(st thesis.State) (int, thesis.Section, error) {
	if st.CurrentSectionID == "" || st.CurrentSectionIndex == nil {
		return 0, thesis.Section{}, ErrMissingRouting
	}
	idx := *st.CurrentSectionIndex
	if idx < 0 || idx >= len(st.Outline) || st.Outline[idx].ID != st.CurrentSectionID {
		idx = st.SectionIndex(st.CurrentSectionID)
		if idx < 0 {
			return 0, thesis.Section{}, fmt.Errorf("%w: %q", ErrSectionNotFound, st.CurrentSectionID)
		}
	}
	return idx, st.Outline[idx].Clone(), nil
}

// waitingForHuman is true when a payload is out and no response has arrived yet.
func waitingForHuman(st thesis.State) bool {
	if st.Interrupt == nil || st.NextStep != thesis.StepReview {
		return false
	}
	_, sec, err := currentSection(st)
	if err != nil {
		return false
	}
	return sec.PendingHumanResponse == nil
}

func (o *Orchestrator) logStep(before, after thesis.State, step thesis.Step, fields map[string]any) {
	fields["version"] = after.Version
	fields["next_step"] = string(after.NextStep)
	fields["router_index"] = after.RouterIndex
	if after.CurrentSectionID != "" {
		fields["section_id"] = after.CurrentSectionID
		if idx := after.SectionIndex(after.CurrentSectionID); idx >= 0 {
			prev := thesis.SectionStatus("")
			if bi := before.SectionIndex(after.CurrentSectionID); bi >= 0 {
				prev = before.Outline[bi].Status
			}
			fields["status"] = string(after.Outline[idx].Status)
			fields["status_transition"] = fmt.Sprintf("%s->%s", prev, after.Outline[idx].Status)
		}
	}
	if after.Completed {
		fields["completed"] = true
	}
	telemetry.Info("orchestrator.step", fields)
}

func stepLabel(step thesis.Step) *string {
	return thesis.StringPtr(string(step))
}
