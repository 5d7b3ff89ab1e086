package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"thesis-backend/internal/thesis"
)

const excerptSeparator = "\n\n---\n\n"

// RetrieveContext attaches journal context to a section selected by the router.
// A section returning for modification keeps its existing context unless
// opts.RefreshContextOnModification is set. The returned error is informational;
// the section already carries the failure.
func RetrieveContext(ctx context.Context, s thesis.Section, r Retriever, opts Options) (thesis.Section, error) {
	out := s.Clone()

	if s.Status == thesis.StatusModificationRequested && s.RetrievedContext != nil && !opts.RefreshContextOnModification {
		out.Status = thesis.StatusContextRetrieved
		return out, nil
	}

	keywords := cleanKeywords(s.Keywords)
	if len(keywords) == 0 || r == nil {
		out.RetrievedExcerpts = nil
		out.RetrievedContext = thesis.StringPtr("")
		out.Status = thesis.StatusContextRetrieved
		return out, nil
	}

	excerpts, err := r.Retrieve(ctx, keywords)
	if err != nil {
		err = fmt.Errorf("context retrieval: %w", err)
		markFailed(&out, err.Error())
		return out, err
	}

	texts := make([]string, 0, len(excerpts))
	for _, e := range excerpts {
		if t := strings.TrimSpace(e.Text); t != "" {
			texts = append(texts, t)
		}
	}
	out.RetrievedExcerpts = excerpts
	out.RetrievedContext = thesis.StringPtr(strings.Join(texts, excerptSeparator))
	out.Status = thesis.StatusContextRetrieved
	return out, nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// markFailed moves a section to the absorbing error status. A pending
// modification flag is dropped so the router cannot re-select a terminal section.
func markFailed(s *thesis.Section, detail string) {
	s.Status = thesis.StatusError
	s.AddError(detail)
	if s.HumanFeedback != nil {
		s.HumanFeedback.ModificationRequested = false
	}
}
