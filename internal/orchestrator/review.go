package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"thesis-backend/internal/thesis"
)

// ReviewOutcome classifies what the review gate did.
type ReviewOutcome string

const (
	ReviewSuspended             ReviewOutcome = "suspended"
	ReviewApproved              ReviewOutcome = "approved"
	ReviewModificationRequested ReviewOutcome = "modification_requested"
	ReviewRejected              ReviewOutcome = "rejected"
	ReviewFailed                ReviewOutcome = "failed"
)

const interruptStep = "human_review"

const reviewInstructions = "Review the draft above. Approve it as final content, or request a modification and describe the changes you want in the feedback text."

// ReviewResult is the gate's output: the updated section, the cursor to resume
// from, and a payload when the run must suspend.
type ReviewResult struct {
	Section     thesis.Section
	RouterIndex int
	Interrupt   *thesis.InterruptPayload
	Outcome     ReviewOutcome
}

// Review dispatches on whether a human response is waiting on the section.
func Review(s thesis.Section, routerIndex int) ReviewResult {
	if s.PendingHumanResponse != nil {
		return Resume(s, routerIndex, *s.PendingHumanResponse)
	}
	return Prepare(s, routerIndex)
}

// Prepare builds the interrupt payload for a section awaiting review. A section
// with no draft cannot be reviewed; it is failed and the cursor moves past it.
func Prepare(s thesis.Section, routerIndex int) ReviewResult {
	out := s.Clone()
	if out.Status != thesis.StatusReviewPending {
		out.Status = thesis.StatusReviewPending
	}

	draft := draftToShow(s)
	if draft == nil {
		markFailed(&out, "nothing to review: section has no draft")
		return ReviewResult{Section: out, RouterIndex: routerIndex + 1, Outcome: ReviewFailed}
	}

	instructions := reviewInstructions
	if hf := s.HumanFeedback; hf != nil && !hf.ModificationRequested {
		if reason := strings.TrimSpace(thesis.Deref(hf.FeedbackText)); reason != "" {
			instructions = reason + " " + reviewInstructions
		}
	}

	var critique *thesis.Critique
	if s.Critique != nil {
		c := *s.Critique
		critique = &c
	}

	payload := &thesis.InterruptPayload{
		Step:         interruptStep,
		SectionID:    s.ID,
		Title:        s.Title,
		DraftContent: *draft,
		Critique:     critique,
		Instructions: instructions,
	}
	return ReviewResult{Section: out, RouterIndex: routerIndex, Interrupt: payload, Outcome: ReviewSuspended}
}

// Resume applies a recorded human decision. The pending response is cleared
// before anything else so a decision is applied at most once.
func Resume(s thesis.Section, routerIndex int, resp thesis.HumanResponse) ReviewResult {
	out := s.Clone()
	out.PendingHumanResponse = nil

	action := thesis.NormalizeAction(string(resp.Action))
	feedback := strings.TrimSpace(thesis.Deref(resp.FeedbackText))

	if resp.SectionID != "" && resp.SectionID != s.ID {
		return reject(out, routerIndex, resp, fmt.Sprintf("Response was addressed to section %q, not %q.", resp.SectionID, s.ID))
	}

	switch action {
	case thesis.ActionApprove:
		if out.FinalContent == nil {
			final := draftToShow(s)
			if final == nil {
				markFailed(&out, "approval received but section has no draft")
				audit(&out, resp, action, feedback, ReviewFailed)
				return ReviewResult{Section: out, RouterIndex: routerIndex + 1, Outcome: ReviewFailed}
			}
			out.FinalContent = thesis.StringPtr(*final)
		}
		out.Status = thesis.StatusApproved
		out.HumanFeedback = nil
		audit(&out, resp, action, feedback, ReviewApproved)
		return ReviewResult{Section: out, RouterIndex: routerIndex + 1, Outcome: ReviewApproved}

	case thesis.ActionModify:
		if feedback == "" {
			return reject(out, routerIndex, resp, "Modification requested without feedback text. Describe the changes you want.")
		}
		out.Status = thesis.StatusModificationRequested
		out.HumanFeedback = &thesis.HumanFeedback{ModificationRequested: true, FeedbackText: thesis.StringPtr(feedback)}
		audit(&out, resp, action, feedback, ReviewModificationRequested)
		return ReviewResult{Section: out, RouterIndex: routerIndex, Outcome: ReviewModificationRequested}

	default:
		return reject(out, routerIndex, resp, fmt.Sprintf("Unrecognized action %q. Use approve or modify.", string(resp.Action)))
	}
}

func reject(out thesis.Section, routerIndex int, resp thesis.HumanResponse, reason string) ReviewResult {
	out.Status = thesis.StatusReviewPending
	out.HumanFeedback = &thesis.HumanFeedback{ModificationRequested: false, FeedbackText: thesis.StringPtr(reason)}
	audit(&out, resp, thesis.NormalizeAction(string(resp.Action)), reason, ReviewRejected)
	return ReviewResult{Section: out, RouterIndex: routerIndex, Outcome: ReviewRejected}
}

func audit(s *thesis.Section, resp thesis.HumanResponse, action thesis.ReviewAction, text string, outcome ReviewOutcome) {
	at := resp.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.ReviewHistory = append(s.ReviewHistory, thesis.ReviewRecord{
		Action:       action,
		FeedbackText: text,
		Reviewer:     resp.Reviewer,
		Outcome:      string(outcome),
		At:           at,
	})
}

func draftToShow(s thesis.Section) *string {
	if s.RevisedDraft != nil {
		return s.RevisedDraft
	}
	return s.Draft
}
