package llm

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/thesis"
)

var (
	//go:embed prompts/draft.tmpl
	draftTemplateText string
	//go:embed prompts/revision.tmpl
	revisionTemplateText string
	//go:embed prompts/critique.tmpl
	critiqueTemplateText string
	//go:embed prompts/critique_fix.tmpl
	critiqueFixTemplateText string

	draftTemplate       = template.Must(template.New("draft").Parse(draftTemplateText))
	revisionTemplate    = template.Must(template.New("revision").Parse(revisionTemplateText))
	critiqueTemplate    = template.Must(template.New("critique").Parse(critiqueTemplateText))
	critiqueFixTemplate = template.Must(template.New("critique_fix").Parse(critiqueFixTemplateText))
)

const (
	drafterSystem = "Tu es un rédacteur académique rigoureux. Tu écris en français."
	criticSystem  = "Tu es un évaluateur exigeant et bienveillant. Tu réponds uniquement en JSON."
)

// BuildDraftPrompt renders the prompt for an initial, modification or revision draft.
func BuildDraftPrompt(bundle orchestrator.PromptBundle) (Prompt, error) {
	tmpl, kind := draftTemplate, KindDraft
	if bundle.Mode == orchestrator.ModeRevision {
		tmpl, kind = revisionTemplate, KindRevision
	}
	user, err := render(tmpl, bundle)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Kind: kind, System: drafterSystem, User: user}, nil
}

type critiqueData struct {
	ID                  string
	Title               string
	Objectives          []string
	RequirementsSummary string
	KeyQuestions        []string
	Draft               string
}

// BuildCritiquePrompt renders the critique request for the section's working draft.
func BuildCritiquePrompt(s thesis.Section) (Prompt, error) {
	user, err := render(critiqueTemplate, critiqueData{
		ID:                  s.ID,
		Title:               s.Title,
		Objectives:          s.Objectives,
		RequirementsSummary: s.RequirementsSummary,
		KeyQuestions:        s.KeyQuestions,
		Draft:               thesis.Deref(s.CurrentWorkingDraft),
	})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Kind: KindCritique, System: criticSystem, User: user, JSON: true}, nil
}

// BuildCritiqueFixPrompt asks the model to repair a malformed critique.
func BuildCritiqueFixPrompt(raw string) (Prompt, error) {
	user, err := render(critiqueFixTemplate, raw)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Kind: KindCritiqueFix, System: criticSystem, User: user, JSON: true}, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
