// Package retrieval finds journal excerpts relevant to a section's keywords.
package retrieval

import (
	"strings"
)

// DefaultK is the number of excerpts returned when no limit is configured.
const DefaultK = 3

const queryPrefix = "Expériences, apprentissages et réflexions liés à : "

// BuildQuery turns section keywords into the natural-language query used for ranking.
// It returns "" when no keyword is usable.
func BuildQuery(keywords []string) string {
	terms := cleanKeywords(keywords)
	if len(terms) == 0 {
		return ""
	}
	return queryPrefix + strings.Join(terms, ", ")
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}
