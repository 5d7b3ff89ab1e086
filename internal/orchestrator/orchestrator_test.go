package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"thesis-backend/internal/checkpoint"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

type harness struct {
	orch     *Orchestrator
	store    *checkpoint.MemoryStore
	drafter  *fakeDrafter
	critic   *fakeCritic
	compiler *fakeCompiler
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	var buf bytes.Buffer
	prev := telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(prev) })

	h := &harness{
		store:    checkpoint.NewMemoryStore(),
		drafter:  &fakeDrafter{},
		critic:   &fakeCritic{},
		compiler: &fakeCompiler{},
	}
	orch, err := New(Deps{
		Store:     h.store,
		Retriever: &fakeRetriever{excerpts: []thesis.Excerpt{{Text: "journal entry"}}},
		Drafter:   h.drafter,
		Critic:    h.critic,
		Compiler:  h.compiler,
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) start(t *testing.T, ids ...string) thesis.State {
	t.Helper()
	outline := make([]thesis.Section, len(ids))
	for i, id := range ids {
		outline[i] = thesis.Section{ID: id, Title: "Section " + id, Level: 1, Keywords: []string{"projet"}}
	}
	st, err := h.orch.Start(context.Background(), StartRequest{RunID: "run-1", Persona: "apprentice", Outline: outline})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return st
}

func (h *harness) step(t *testing.T) Outcome {
	t.Helper()
	out, err := h.orch.Step(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return out
}

func TestEndToEndSingleSection(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.start(t, "S1")

	out := h.step(t)
	if out.Decision == nil || out.Decision.Action != ActionWork || out.Decision.SectionID != "S1" {
		t.Fatalf("step 1: expected WORK(S1), got %+v", out.Decision)
	}
	if out.State.Outline[0].Status != thesis.StatusContextRetrieved {
		t.Fatalf("step 1: status = %s", out.State.Outline[0].Status)
	}

	out = h.step(t)
	if out.State.Outline[0].Status != thesis.StatusDraftGenerated {
		t.Fatalf("step 2: status = %s", out.State.Outline[0].Status)
	}

	out = h.step(t)
	sec := out.State.Outline[0]
	if sec.Status != thesis.StatusCritiqued || sec.Critique.Recommendation != thesis.RecommendReadyForReview {
		t.Fatalf("step 3: unexpected section %+v", sec)
	}

	out = h.step(t)
	if !out.Suspended || out.State.Interrupt == nil || out.State.Interrupt.SectionID != "S1" {
		t.Fatalf("step 4: expected suspension with payload, got %+v", out)
	}
	if out.State.Outline[0].Status != thesis.StatusReviewPending || out.State.RouterIndex != 0 {
		t.Fatalf("step 4: status=%s router=%d", out.State.Outline[0].Status, out.State.RouterIndex)
	}

	idle := h.step(t)
	if !idle.Suspended || idle.State.Version != out.State.Version {
		t.Fatalf("suspended run must not advance without a response")
	}

	if _, err := h.orch.SubmitReview(context.Background(), "run-1", thesis.HumanResponse{Action: thesis.ActionApprove}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	out = h.step(t)
	sec = out.State.Outline[0]
	if out.Review != ReviewApproved || sec.Status != thesis.StatusApproved || sec.FinalContent == nil {
		t.Fatalf("step 5: unexpected %+v", sec)
	}
	if out.State.RouterIndex != 1 || out.State.Interrupt != nil {
		t.Fatalf("step 5: router=%d interrupt=%v", out.State.RouterIndex, out.State.Interrupt)
	}

	out = h.step(t)
	if out.Decision == nil || out.Decision.Action != ActionCompile || !out.Completed {
		t.Fatalf("step 6: expected COMPILE, got %+v", out)
	}
	if h.compiler.calls != 1 || out.State.Document == nil {
		t.Fatalf("compiler not invoked")
	}

	done := h.step(t)
	if !done.Completed || h.compiler.calls != 1 {
		t.Fatalf("completed run must be a no-op")
	}
}

func TestModificationLoopReturnsToSameSection(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.start(t, "S1", "S2")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		h.step(t)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{SectionID: "S1", Action: thesis.ActionModify, FeedbackText: thesis.StringPtr("Cite the retrospective.")}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	out := h.step(t)
	if out.Review != ReviewModificationRequested || out.State.RouterIndex != 0 {
		t.Fatalf("unexpected modify outcome %+v", out)
	}

	out = h.step(t)
	if out.Decision.SectionID != "S1" || out.State.Outline[0].Status != thesis.StatusContextRetrieved {
		t.Fatalf("router must re-select S1, got %+v", out.Decision)
	}

	out = h.step(t)
	last := h.drafter.bundles[len(h.drafter.bundles)-1]
	if last.Mode != ModeModification || last.Feedback != "Cite the retrospective." {
		t.Fatalf("drafter did not receive feedback: %+v", last)
	}
	if out.State.Outline[0].HumanFeedback != nil {
		t.Fatalf("feedback must be consumed")
	}

	h.step(t) // critique
	h.step(t) // review -> suspend
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{Action: thesis.ActionApprove}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	h.step(t)

	out = h.step(t)
	if out.Decision.SectionID != "S2" {
		t.Fatalf("expected S2 next, got %+v", out.Decision)
	}
}

func TestReflectionBoundThroughSteps(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxReflectionAttempts = 2
	h := newHarness(t, opts)
	h.critic.results = []thesis.Critique{revise(3)}
	h.start(t, "S1")

	var out Outcome
	for i := 0; i < 20; i++ {
		out = h.step(t)
		if sec := out.State.Outline[0]; sec.ReflectionAttempts > opts.MaxReflectionAttempts {
			t.Fatalf("attempts exceeded bound: %d", sec.ReflectionAttempts)
		}
		if out.Suspended {
			break
		}
	}
	if !out.Suspended {
		t.Fatalf("run never reached review")
	}
	sec := out.State.Outline[0]
	if sec.ReflectionAttempts != 2 || len(sec.ReflectionHistory) != 3 {
		t.Fatalf("attempts=%d history=%d", sec.ReflectionAttempts, len(sec.ReflectionHistory))
	}
	if out.State.Interrupt.DraftContent != thesis.Deref(sec.RevisedDraft) {
		t.Fatalf("review must show the latest revision")
	}
}

func TestSectionFailureDoesNotHaltRun(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.drafter.errs = []error{errGeneration}
	h.start(t, "S1", "S2")

	h.step(t) // route S1 + context
	out := h.step(t)
	if out.State.Outline[0].Status != thesis.StatusError || out.State.NextStep != thesis.StepRoute {
		t.Fatalf("expected S1 error and reroute, got %+v", out.State)
	}
	out = h.step(t)
	if out.Decision.SectionID != "S2" {
		t.Fatalf("expected router to move on to S2, got %+v", out.Decision)
	}
}

func TestSubmitReviewGuards(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.start(t, "S1")
	ctx := context.Background()

	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{Action: thesis.ActionApprove}); !errors.Is(err, ErrNotAwaitingReview) {
		t.Fatalf("expected ErrNotAwaitingReview, got %v", err)
	}
	for i := 0; i < 4; i++ {
		h.step(t)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{SectionID: "other", Action: thesis.ActionApprove}); !errors.Is(err, ErrNotAwaitingReview) {
		t.Fatalf("expected section mismatch, got %v", err)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{}); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{Action: thesis.ActionApprove}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{Action: thesis.ActionModify}); !errors.Is(err, ErrResponseAlreadyPending) {
		t.Fatalf("expected ErrResponseAlreadyPending, got %v", err)
	}
}

func TestMalformedResponseReoffersThroughSteps(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.start(t, "S1")
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		h.step(t)
	}
	if _, err := h.orch.SubmitReview(ctx, "run-1", thesis.HumanResponse{Action: thesis.ActionModify}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	out := h.step(t)
	if out.Review != ReviewRejected || out.Suspended {
		t.Fatalf("expected rejection, got %+v", out)
	}
	out = h.step(t)
	if !out.Suspended || out.State.Outline[0].Status != thesis.StatusReviewPending {
		t.Fatalf("expected section re-offered, got %+v", out)
	}
}

func TestStartAndStepErrors(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	if _, err := h.orch.Start(ctx, StartRequest{RunID: "x"}); !errors.Is(err, ErrEmptyOutline) {
		t.Fatalf("expected ErrEmptyOutline, got %v", err)
	}
	if _, err := h.orch.Start(ctx, StartRequest{Outline: []thesis.Section{{ID: "1"}, {ID: "1"}}}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	h.start(t, "S1")
	if _, err := h.orch.Start(ctx, StartRequest{RunID: "run-1", Outline: []thesis.Section{{ID: "1"}}}); !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	if _, err := h.orch.Step(ctx, "missing"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st, _ := h.store.Load(ctx, "run-1")
	st.NextStep = thesis.StepDraft
	if _, err := h.store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := h.orch.Step(ctx, "run-1"); !errors.Is(err, ErrMissingRouting) {
		t.Fatalf("expected ErrMissingRouting, got %v", err)
	}

	st, _ = h.store.Load(ctx, "run-1")
	st.CurrentSectionID = "ghost"
	st.CurrentSectionIndex = thesis.IntPtr(0)
	if _, err := h.store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := h.orch.Step(ctx, "run-1"); !errors.Is(err, ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound, got %v", err)
	}
}

func TestCompileFailureIsRetried(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.compiler.err = errGeneration
	ctx := context.Background()
	if _, err := h.orch.Start(ctx, StartRequest{RunID: "run-1", Outline: []thesis.Section{{ID: "S1"}}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, _ := h.store.Load(ctx, "run-1")
	st.Outline[0].Status = thesis.StatusSkipped
	if _, err := h.store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := h.orch.Step(ctx, "run-1")
	if !errors.Is(err, ErrCompile) || out.Completed || out.State.Warning == "" {
		t.Fatalf("expected saved compile failure, got %+v err=%v", out, err)
	}
	h.compiler.err = nil
	out, err = h.orch.Step(ctx, "run-1")
	if err != nil || !out.Completed {
		t.Fatalf("expected compile retry to succeed, got %+v err=%v", out, err)
	}
}

func TestInconsistentOutlineFlag(t *testing.T) {
	ctx := context.Background()
	for _, compile := range []bool{true, false} {
		opts := DefaultOptions()
		opts.CompileOnInconsistentOutline = compile
		h := newHarness(t, opts)
		h.start(t, "S1")
		st, _ := h.store.Load(ctx, "run-1")
		st.Outline[0].Status = thesis.StatusDraftGenerated
		if _, err := h.store.Save(ctx, st); err != nil {
			t.Fatalf("save: %v", err)
		}
		out, err := h.orch.Step(ctx, "run-1")
		if compile {
			if err != nil || !out.Completed || out.State.Warning == "" {
				t.Fatalf("expected degraded compile, got %+v err=%v", out, err)
			}
		} else if !errors.Is(err, ErrInconsistentOutline) {
			t.Fatalf("expected ErrInconsistentOutline, got %v", err)
		}
	}
}
