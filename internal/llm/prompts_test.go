package llm

import (
	"strings"
	"testing"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/thesis"
)

func TestBuildDraftPromptModes(t *testing.T) {
	base := orchestrator.PromptBundle{
		Persona:          "Alternant en DevOps",
		SectionID:        "2.1",
		Title:            "Contexte",
		Level:            2,
		Objectives:       []string{"présenter l'entreprise"},
		RetrievedContext: "Semaine 3 : migration CI.",
	}

	tests := []struct {
		name     string
		mode     orchestrator.DraftMode
		feedback string
		prev     string
		critique *thesis.Critique
		kind     Kind
		contains []string
		excludes []string
	}{
		{
			name:     "initial",
			mode:     orchestrator.ModeInitial,
			kind:     KindDraft,
			contains: []string{"2.1 Contexte", "présenter l'entreprise", "Semaine 3 : migration CI."},
			excludes: []string{"Demande de modification"},
		},
		{
			name:     "modification",
			mode:     orchestrator.ModeModification,
			feedback: "Ajouter un exemple chiffré",
			prev:     "Ancienne version",
			kind:     KindDraft,
			contains: []string{"Demande de modification", "Ajouter un exemple chiffré", "Ancienne version"},
		},
		{
			name:     "revision",
			mode:     orchestrator.ModeRevision,
			prev:     "Version courante",
			critique: &thesis.Critique{Score: 5, Flaws: []string{"trop vague"}, Summary: "À préciser"},
			kind:     KindRevision,
			contains: []string{"Version courante", "trop vague", "À préciser"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := base
			b.Mode = tt.mode
			b.Feedback = tt.feedback
			b.PreviousDraft = tt.prev
			b.Critique = tt.critique
			p, err := BuildDraftPrompt(b)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if p.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", p.Kind, tt.kind)
			}
			if p.JSON {
				t.Fatalf("draft prompts must not request JSON")
			}
			for _, s := range tt.contains {
				if !strings.Contains(p.User, s) {
					t.Fatalf("prompt missing %q:\n%s", s, p.User)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(p.User, s) {
					t.Fatalf("prompt should not contain %q", s)
				}
			}
		})
	}
}

func TestBuildCritiquePromptUsesWorkingDraft(t *testing.T) {
	s := thesis.Section{
		ID:                  "3",
		Title:               "Bilan",
		CurrentWorkingDraft: thesis.StringPtr("Texte à évaluer"),
		Draft:               thesis.StringPtr("Premier jet"),
	}
	p, err := BuildCritiquePrompt(s)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !p.JSON || p.Kind != KindCritique {
		t.Fatalf("unexpected prompt meta: %+v", p)
	}
	if !strings.Contains(p.User, "Texte à évaluer") || strings.Contains(p.User, "Premier jet") {
		t.Fatalf("critique prompt should embed the working draft only:\n%s", p.User)
	}
}

func TestBuildCritiqueFixPromptEmbedsRaw(t *testing.T) {
	p, err := BuildCritiqueFixPrompt("{score: 5")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Kind != KindCritiqueFix || !strings.Contains(p.User, "{score: 5") {
		t.Fatalf("unexpected fix prompt: %+v", p)
	}
}
