package orchestrator

import (
	"strings"
	"testing"

	"thesis-backend/internal/thesis"
)

func reviewable() thesis.Section {
	c := ready(8)
	return thesis.Section{
		ID:                  "2.1",
		Title:               "Méthodologie",
		Status:              thesis.StatusCritiqued,
		Draft:               thesis.StringPtr("first draft"),
		CurrentWorkingDraft: thesis.StringPtr("first draft"),
		Critique:            &c,
	}
}

func TestPrepareBuildsPayload(t *testing.T) {
	s := reviewable()
	s.RevisedDraft = thesis.StringPtr("revised draft")

	res := Prepare(s, 4)
	if res.Outcome != ReviewSuspended || res.RouterIndex != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Section.Status != thesis.StatusReviewPending {
		t.Fatalf("status = %s", res.Section.Status)
	}
	p := res.Interrupt
	if p == nil || p.SectionID != "2.1" || p.Title != "Méthodologie" || p.DraftContent != "revised draft" || p.Critique == nil || p.Instructions == "" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestPrepareWithoutDraftFailsAndAdvances(t *testing.T) {
	s := thesis.Section{ID: "3", Status: thesis.StatusCritiqued}
	res := Prepare(s, 2)
	if res.Outcome != ReviewFailed || res.RouterIndex != 3 || res.Interrupt != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Section.Status != thesis.StatusError || len(res.Section.ErrorDetails) == 0 {
		t.Fatalf("expected error status, got %+v", res.Section)
	}
}

func TestResumeApprove(t *testing.T) {
	s := reviewable()
	s.Status = thesis.StatusReviewPending
	s.RevisedDraft = thesis.StringPtr("revised")
	s.HumanFeedback = &thesis.HumanFeedback{FeedbackText: thesis.StringPtr("stale")}
	s.PendingHumanResponse = &thesis.HumanResponse{SectionID: "2.1", Action: thesis.ActionApprove, Reviewer: "tutor"}

	res := Review(s, 1)
	if res.Outcome != ReviewApproved || res.RouterIndex != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	out := res.Section
	if out.Status != thesis.StatusApproved || thesis.Deref(out.FinalContent) != "revised" {
		t.Fatalf("unexpected approval %+v", out)
	}
	if out.PendingHumanResponse != nil || out.HumanFeedback != nil {
		t.Fatalf("response and feedback must be cleared")
	}
	if len(out.ReviewHistory) != 1 || out.ReviewHistory[0].Reviewer != "tutor" {
		t.Fatalf("expected audit record, got %+v", out.ReviewHistory)
	}
}

func TestResumeApproveNeverOverwritesFinalContent(t *testing.T) {
	s := reviewable()
	s.FinalContent = thesis.StringPtr("locked")
	s.RevisedDraft = thesis.StringPtr("newer")
	res := Resume(s, 0, thesis.HumanResponse{Action: thesis.ActionApprove})
	if thesis.Deref(res.Section.FinalContent) != "locked" {
		t.Fatalf("final content overwritten: %q", thesis.Deref(res.Section.FinalContent))
	}
}

func TestResumeModify(t *testing.T) {
	s := reviewable()
	s.Status = thesis.StatusReviewPending
	s.PendingHumanResponse = &thesis.HumanResponse{Action: "modify_section", FeedbackText: thesis.StringPtr("  Add the sprint retrospective.  ")}

	res := Review(s, 5)
	if res.Outcome != ReviewModificationRequested || res.RouterIndex != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	hf := res.Section.HumanFeedback
	if res.Section.Status != thesis.StatusModificationRequested || hf == nil || !hf.ModificationRequested || thesis.Deref(hf.FeedbackText) != "Add the sprint retrospective." {
		t.Fatalf("unexpected section %+v", res.Section)
	}
	if res.Section.FinalContent != nil {
		t.Fatalf("final content must stay unset")
	}
}

func TestResumeMalformedReoffersSection(t *testing.T) {
	tests := []struct {
		name string
		resp thesis.HumanResponse
		want string
	}{
		{name: "modify without text", resp: thesis.HumanResponse{Action: thesis.ActionModify, FeedbackText: thesis.StringPtr("   ")}, want: "without feedback"},
		{name: "unknown action", resp: thesis.HumanResponse{Action: "reject"}, want: "Unrecognized action"},
		{name: "wrong section", resp: thesis.HumanResponse{SectionID: "9", Action: thesis.ActionApprove}, want: "not \"2.1\""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := reviewable()
			s.Status = thesis.StatusReviewPending
			resp := tt.resp
			s.PendingHumanResponse = &resp

			res := Review(s, 3)
			if res.Outcome != ReviewRejected || res.RouterIndex != 3 {
				t.Fatalf("unexpected result %+v", res)
			}
			out := res.Section
			if out.Status != thesis.StatusReviewPending || out.PendingHumanResponse != nil {
				t.Fatalf("expected re-offer with cleared response, got %+v", out)
			}
			if out.HumanFeedback == nil || out.HumanFeedback.ModificationRequested || !strings.Contains(thesis.Deref(out.HumanFeedback.FeedbackText), tt.want) {
				t.Fatalf("unexpected feedback %+v", out.HumanFeedback)
			}
			if out.FinalContent != nil {
				t.Fatalf("rejected response must not approve")
			}

			again := Review(out, res.RouterIndex)
			if again.Outcome != ReviewSuspended || !strings.Contains(again.Interrupt.Instructions, tt.want) {
				t.Fatalf("expected re-prompt carrying the reason, got %+v", again)
			}
		})
	}
}

func TestReviewConsumesResponseOnce(t *testing.T) {
	s := reviewable()
	s.Status = thesis.StatusReviewPending
	s.PendingHumanResponse = &thesis.HumanResponse{Action: thesis.ActionModify, FeedbackText: thesis.StringPtr("tighten")}

	first := Review(s, 0)
	if first.Outcome != ReviewModificationRequested {
		t.Fatalf("first call: %+v", first)
	}
	second := Review(first.Section, first.RouterIndex)
	if second.Outcome != ReviewSuspended {
		t.Fatalf("second call must re-enter the no-response path, got %s", second.Outcome)
	}
	if len(second.Section.ReviewHistory) != 1 {
		t.Fatalf("decision applied more than once: %+v", second.Section.ReviewHistory)
	}
}
