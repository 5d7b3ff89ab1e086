package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"thesis-backend/internal/thesis"
)

var errNothingToCritique = errors.New("no working draft to critique")

// CritiqueResult reports the critique outcome and where the section goes next.
type CritiqueResult struct {
	Section thesis.Section
	Next    thesis.Step
	// ForcedReview is set when the critic asked for a revision but the bound was reached.
	ForcedReview bool
}

// CritiqueDraft evaluates the current working draft and appends the result to the
// reflection history. Another revision is scheduled only while the critic asks
// for one and the reflection bound allows it.
func CritiqueDraft(ctx context.Context, s thesis.Section, c Critic, opts Options) (CritiqueResult, error) {
	out := s.Clone()

	if s.CurrentWorkingDraft == nil {
		markFailed(&out, errNothingToCritique.Error())
		return CritiqueResult{Section: out, Next: thesis.StepRoute}, errNothingToCritique
	}

	cr, err := c.Critique(ctx, s)
	if err != nil {
		err = fmt.Errorf("critique: %w", err)
		markFailed(&out, err.Error())
		return CritiqueResult{Section: out, Next: thesis.StepRoute}, err
	}

	out.Critique = &cr
	out.ReflectionHistory = append(out.ReflectionHistory, cr)
	out.Status = thesis.StatusCritiqued

	if cr.Recommendation != thesis.RecommendRevise {
		return CritiqueResult{Section: out, Next: thesis.StepReview}, nil
	}
	if s.ReflectionAttempts < opts.MaxReflectionAttempts {
		return CritiqueResult{Section: out, Next: thesis.StepDraft}, nil
	}
	return CritiqueResult{Section: out, Next: thesis.StepReview, ForcedReview: true}, nil
}
