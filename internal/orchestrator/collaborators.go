package orchestrator

import (
	"context"

	"thesis-backend/internal/thesis"
)

// Retriever returns journal excerpts for a section's keywords.
// Empty keywords must yield no excerpts and no error.
type Retriever interface {
	Retrieve(ctx context.Context, keywords []string) ([]thesis.Excerpt, error)
}

// Drafter produces section text from a prompt bundle.
type Drafter interface {
	Generate(ctx context.Context, bundle PromptBundle) (string, error)
}

// Critic evaluates the section's current working draft.
type Critic interface {
	Critique(ctx context.Context, section thesis.Section) (thesis.Critique, error)
}

// Compiler assembles the final document once every section is settled.
type Compiler interface {
	Compile(ctx context.Context, state thesis.State) (thesis.DocumentRef, error)
}

// DraftMode tells the drafter which kind of text is expected.
type DraftMode string

const (
	ModeInitial      DraftMode = "initial"
	ModeModification DraftMode = "modification"
	ModeRevision     DraftMode = "revision"
)

// PromptBundle is everything the drafter receives for one generation call.
type PromptBundle struct {
	Mode                DraftMode
	Persona             string
	SectionID           string
	Title               string
	Level               int
	Objectives          []string
	RequirementsSummary string
	KeyQuestions        []string
	StyleNotes          string
	RetrievedContext    string
	// PreviousDraft is the current working draft, verbatim, in revision and modification modes.
	PreviousDraft string
	Critique      *thesis.Critique
	Feedback      string
}

func bundleFor(mode DraftMode, persona string, s thesis.Section) PromptBundle {
	return PromptBundle{
		Mode:                mode,
		Persona:             persona,
		SectionID:           s.ID,
		Title:               s.Title,
		Level:               s.Level,
		Objectives:          s.Objectives,
		RequirementsSummary: s.RequirementsSummary,
		KeyQuestions:        s.KeyQuestions,
		StyleNotes:          s.StyleNotes,
		RetrievedContext:    thesis.Deref(s.RetrievedContext),
	}
}
