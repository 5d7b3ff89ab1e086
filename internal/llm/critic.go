package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

// ErrInvalidCritique is returned when the model output cannot be parsed even after one repair attempt.
var ErrInvalidCritique = errors.New("invalid critique JSON")

// Critic adapts a Client to the orchestrator's critique contract.
type Critic struct {
	Client Client
}

// NewCritic constructs a Critic.
func NewCritic(client Client) *Critic {
	return &Critic{Client: client}
}

type critiquePayload struct {
	Score              *float64 `json:"score"`
	Recommendation     string   `json:"recommendation"`
	Flaws              []string `json:"flaws"`
	MissingItems       []string `json:"missing_items"`
	SuperfluousContent []string `json:"superfluous_content"`
	Summary            string   `json:"summary"`
}

// Critique asks the model for a structured evaluation. Malformed output gets one repair round.
func (c *Critic) Critique(ctx context.Context, s thesis.Section) (thesis.Critique, error) {
	prompt, err := BuildCritiquePrompt(s)
	if err != nil {
		return thesis.Critique{}, err
	}
	raw, err := c.Client.Complete(ctx, prompt)
	if err != nil {
		return thesis.Critique{}, err
	}
	cr, perr := ParseCritique(raw)
	if perr == nil {
		return cr, nil
	}

	telemetry.Warn("llm.critique_repair", map[string]any{
		"section_id": s.ID,
		"err":        perr,
	})
	fix, err := BuildCritiqueFixPrompt(raw)
	if err != nil {
		return thesis.Critique{}, err
	}
	raw, err = c.Client.Complete(ctx, fix)
	if err != nil {
		return thesis.Critique{}, err
	}
	return ParseCritique(raw)
}

// ParseCritique extracts the first JSON object from raw and normalizes it.
func ParseCritique(raw string) (thesis.Critique, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return thesis.Critique{}, fmt.Errorf("%w: no JSON object found", ErrInvalidCritique)
	}
	var p critiquePayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return thesis.Critique{}, fmt.Errorf("%w: %v", ErrInvalidCritique, err)
	}
	if p.Score == nil {
		return thesis.Critique{}, fmt.Errorf("%w: missing score", ErrInvalidCritique)
	}

	score := *p.Score
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	rec := thesis.RecommendReadyForReview
	switch strings.ToLower(strings.TrimSpace(p.Recommendation)) {
	case "revise", "revision", "needs_revision":
		rec = thesis.RecommendRevise
	case "ready_for_review", "ready", "approve":
	default:
		return thesis.Critique{}, fmt.Errorf("%w: unknown recommendation %q", ErrInvalidCritique, p.Recommendation)
	}

	return thesis.Critique{
		Score:              score,
		Recommendation:     rec,
		Flaws:              compact(p.Flaws),
		MissingItems:       compact(p.MissingItems),
		SuperfluousContent: compact(p.SuperfluousContent),
		Summary:            strings.TrimSpace(p.Summary),
	}, nil
}

// extractJSONObject returns the outermost balanced {...} span, skipping braces inside strings.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var _ orchestrator.Critic = (*Critic)(nil)
