package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"thesis-backend/internal/thesis"
)

var errEmptyGeneration = errors.New("drafter returned empty text")

// DraftResult reports what DraftOrRevise did.
type DraftResult struct {
	Section thesis.Section
	Mode    DraftMode
	// ForcedReview is set when the reflection bound was hit and no generation ran.
	ForcedReview bool
}

// DraftOrRevise runs one drafting call for the section.
//
// Revision mode applies only when the section holds a critique and is in the
// critiqued status; every other entry (first visit, modification re-entry)
// is an initial draft that starts a fresh reflection cycle. Generation
// failures leave the section in the error status and are returned for logging only.
func DraftOrRevise(ctx context.Context, s thesis.Section, persona string, d Drafter, opts Options) (DraftResult, error) {
	out := s.Clone()

	if s.Critique != nil && s.Status == thesis.StatusCritiqued {
		if s.ReflectionAttempts >= opts.MaxReflectionAttempts {
			out.Status = thesis.StatusReviewPending
			return DraftResult{Section: out, Mode: ModeRevision, ForcedReview: true}, nil
		}

		bundle := bundleFor(ModeRevision, persona, s)
		bundle.PreviousDraft = thesis.Deref(s.CurrentWorkingDraft)
		bundle.Critique = s.Critique

		text, err := generate(ctx, d, bundle)
		if err != nil {
			markFailed(&out, fmt.Sprintf("revision %d failed: %v", s.ReflectionAttempts+1, err))
			return DraftResult{Section: out, Mode: ModeRevision}, err
		}
		out.RevisedDraft = thesis.StringPtr(text)
		out.CurrentWorkingDraft = thesis.StringPtr(text)
		out.ReflectionAttempts = s.ReflectionAttempts + 1
		out.Status = thesis.StatusDraftGenerated
		return DraftResult{Section: out, Mode: ModeRevision}, nil
	}

	mode := ModeInitial
	bundle := bundleFor(ModeInitial, persona, s)
	if fb := pendingFeedback(s); fb != "" {
		mode = ModeModification
		bundle.Mode = ModeModification
		bundle.Feedback = fb
		bundle.PreviousDraft = thesis.Deref(s.CurrentWorkingDraft)
	}

	text, err := generate(ctx, d, bundle)
	if err != nil {
		markFailed(&out, fmt.Sprintf("%s draft failed: %v", mode, err))
		return DraftResult{Section: out, Mode: mode}, err
	}

	out.Draft = thesis.StringPtr(text)
	out.CurrentWorkingDraft = thesis.StringPtr(text)
	out.RevisedDraft = nil
	out.Critique = nil
	out.ReflectionHistory = nil
	out.ReflectionAttempts = 0
	out.HumanFeedback = nil
	out.Status = thesis.StatusDraftGenerated
	return DraftResult{Section: out, Mode: mode}, nil
}

func generate(ctx context.Context, d Drafter, bundle PromptBundle) (string, error) {
	text, err := d.Generate(ctx, bundle)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyGeneration
	}
	return text, nil
}

func pendingFeedback(s thesis.Section) string {
	if s.HumanFeedback == nil || !s.HumanFeedback.ModificationRequested {
		return ""
	}
	return strings.TrimSpace(thesis.Deref(s.HumanFeedback.FeedbackText))
}
