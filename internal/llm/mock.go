package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient returns deterministic output without calling a provider.
// Critiques recommend revision until ReviseRounds critiques have been issued for a section.
type MockClient struct {
	ReviseRounds int

	mu        sync.Mutex
	critiques map[string]int
}

// NewMockClient constructs a MockClient.
func NewMockClient(reviseRounds int) *MockClient {
	return &MockClient{ReviseRounds: reviseRounds, critiques: map[string]int{}}
}

func (m *MockClient) Complete(_ context.Context, prompt Prompt) (string, error) {
	switch prompt.Kind {
	case KindCritique, KindCritiqueFix:
		key := sectionKey(prompt.User)
		m.mu.Lock()
		if m.critiques == nil {
			m.critiques = map[string]int{}
		}
		m.critiques[key]++
		n := m.critiques[key]
		m.mu.Unlock()
		if n <= m.ReviseRounds {
			return fmt.Sprintf(`{"score": 5, "recommendation": "revise", "flaws": ["argumentation trop générale (passe %d)"], "missing_items": [], "superfluous_content": [], "summary": "À approfondir."}`, n), nil
		}
		return `{"score": 8, "recommendation": "ready_for_review", "flaws": [], "missing_items": [], "superfluous_content": [], "summary": "Prêt pour relecture."}`, nil
	case KindRevision:
		return "Version révisée.\n\n" + excerpt(prompt.User), nil
	default:
		return "Brouillon.\n\n" + excerpt(prompt.User), nil
	}
}

func sectionKey(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "Section :") {
			return line
		}
	}
	return ""
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > 240 {
		r = r[:240]
	}
	return string(r)
}

var _ Client = (*MockClient)(nil)
