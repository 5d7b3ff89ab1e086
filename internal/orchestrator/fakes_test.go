package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"thesis-backend/internal/thesis"
)

type fakeRetriever struct {
	excerpts []thesis.Excerpt
	err      error
	calls    [][]string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, keywords []string) ([]thesis.Excerpt, error) {
	f.calls = append(f.calls, append([]string(nil), keywords...))
	if f.err != nil {
		return nil, f.err
	}
	return f.excerpts, nil
}

type fakeDrafter struct {
	mu      sync.Mutex
	bundles []PromptBundle
	errs    []error
	n       int
}

func (f *fakeDrafter) Generate(ctx context.Context, bundle PromptBundle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = append(f.bundles, bundle)
	idx := f.n
	f.n++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return fmt.Sprintf("%s text %d for %s", bundle.Mode, idx+1, bundle.SectionID), nil
}

func (f *fakeDrafter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bundles)
}

type fakeCritic struct {
	results []thesis.Critique
	err     error
	n       int
	seen    []string
}

func (f *fakeCritic) Critique(ctx context.Context, s thesis.Section) (thesis.Critique, error) {
	f.seen = append(f.seen, thesis.Deref(s.CurrentWorkingDraft))
	if f.err != nil {
		return thesis.Critique{}, f.err
	}
	if len(f.results) == 0 {
		return thesis.Critique{Score: 8, Recommendation: thesis.RecommendReadyForReview}, nil
	}
	idx := f.n
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.n++
	return f.results[idx], nil
}

type fakeCompiler struct {
	err   error
	calls int
}

func (f *fakeCompiler) Compile(ctx context.Context, st thesis.State) (thesis.DocumentRef, error) {
	f.calls++
	if f.err != nil {
		return thesis.DocumentRef{}, f.err
	}
	return thesis.DocumentRef{MarkdownKey: "documents/" + st.RunID + "/thesis.md", Sections: len(st.Outline)}, nil
}

var errGeneration = errors.New("upstream unavailable")

func revise(score float64) thesis.Critique {
	return thesis.Critique{Score: score, Recommendation: thesis.RecommendRevise, Flaws: []string{"thin evidence"}}
}

func ready(score float64) thesis.Critique {
	return thesis.Critique{Score: score, Recommendation: thesis.RecommendReadyForReview}
}
