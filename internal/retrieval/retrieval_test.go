package retrieval

import "testing"

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		want     string
	}{
		{name: "empty", keywords: nil, want: ""},
		{name: "blank only", keywords: []string{" ", ""}, want: ""},
		{name: "dedup and trim", keywords: []string{" CI/CD ", "kubernetes", "ci/cd"}, want: "Expériences, apprentissages et réflexions liés à : CI/CD, kubernetes"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.keywords); got != tt.want {
				t.Fatalf("BuildQuery(%v) = %q, want %q", tt.keywords, got, tt.want)
			}
		})
	}
}
