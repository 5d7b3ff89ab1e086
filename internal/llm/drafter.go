package llm

import (
	"context"
	"strings"
	"time"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/shared/util"
)

// Drafter adapts a Client to the orchestrator's drafting contract.
type Drafter struct {
	Client Client
}

// NewDrafter constructs a Drafter.
func NewDrafter(client Client) *Drafter {
	return &Drafter{Client: client}
}

// Generate renders the prompt for the bundle's mode and returns the section text.
func (d *Drafter) Generate(ctx context.Context, bundle orchestrator.PromptBundle) (string, error) {
	prompt, err := BuildDraftPrompt(bundle)
	if err != nil {
		return "", err
	}
	started := time.Now()
	text, err := d.Client.Complete(ctx, prompt)
	fields := map[string]any{
		"section_id":  bundle.SectionID,
		"mode":        string(bundle.Mode),
		"prompt_hash": util.ShortHash(prompt.User),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["err"] = err
		telemetry.Error("llm.draft_failed", fields)
		return "", err
	}
	text = stripFences(text)
	fields["chars"] = len(text)
	telemetry.Info("llm.draft", fields)
	return text, nil
}

// stripFences removes a single surrounding markdown code fence some models add.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	t = strings.TrimSuffix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}
	return strings.TrimSpace(t)
}

var _ orchestrator.Drafter = (*Drafter)(nil)
