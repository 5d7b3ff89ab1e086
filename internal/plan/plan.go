// Package plan loads thesis outlines from YAML or JSON files.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"thesis-backend/internal/thesis"
)

var (
	ErrEmptyPlan    = errors.New("plan: no sections")
	ErrDuplicateID  = errors.New("plan: duplicate section id")
	ErrMissingID    = errors.New("plan: section id is required")
	ErrMissingTitle = errors.New("plan: section title is required")
	ErrInvalidLevel = errors.New("plan: section level must be >= 1")
)

// SectionSpec is one outline entry as written in a plan file.
type SectionSpec struct {
	ID                  string   `yaml:"id" json:"id"`
	Title               string   `yaml:"title" json:"title"`
	Level               int      `yaml:"level,omitempty" json:"level,omitempty"`
	Objectives          []string `yaml:"objectives,omitempty" json:"objectives,omitempty"`
	RequirementsSummary string   `yaml:"requirements_summary,omitempty" json:"requirements_summary,omitempty"`
	KeyQuestions        []string `yaml:"key_questions,omitempty" json:"key_questions,omitempty"`
	StyleNotes          string   `yaml:"style_notes,omitempty" json:"style_notes,omitempty"`
	Keywords            []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Plan is a complete outline plan: optional document title and persona plus ordered sections.
type Plan struct {
	Title    string        `yaml:"title,omitempty" json:"title,omitempty"`
	Persona  string        `yaml:"persona,omitempty" json:"persona,omitempty"`
	Sections []SectionSpec `yaml:"sections" json:"sections"`
}

// Parse decodes a plan from YAML or JSON bytes and validates it.
func Parse(data []byte) (Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Plan{}, fmt.Errorf("plan: payload is empty")
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("plan: decode: %w", err)
	}
	return p.Normalized()
}

// LoadReader reads plan data from r.
func LoadReader(r io.Reader) (Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Plan{}, fmt.Errorf("plan: read: %w", err)
	}
	return Parse(data)
}

// LoadFile loads a plan from path.
func LoadFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("plan: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Normalized trims fields, fills default levels and validates ids and titles.
func (p Plan) Normalized() (Plan, error) {
	if len(p.Sections) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	out := Plan{
		Title:    strings.TrimSpace(p.Title),
		Persona:  strings.TrimSpace(p.Persona),
		Sections: make([]SectionSpec, 0, len(p.Sections)),
	}
	seen := make(map[string]int, len(p.Sections))
	for i, s := range p.Sections {
		s.ID = strings.TrimSpace(s.ID)
		s.Title = strings.TrimSpace(s.Title)
		if s.ID == "" {
			return Plan{}, fmt.Errorf("%w (entry %d)", ErrMissingID, i)
		}
		if prev, ok := seen[s.ID]; ok {
			return Plan{}, fmt.Errorf("%w: %q at entries %d and %d", ErrDuplicateID, s.ID, prev, i)
		}
		seen[s.ID] = i
		if s.Title == "" {
			return Plan{}, fmt.Errorf("%w: %q", ErrMissingTitle, s.ID)
		}
		if s.Level < 0 {
			return Plan{}, fmt.Errorf("%w: %q", ErrInvalidLevel, s.ID)
		}
		if s.Level == 0 {
			s.Level = LevelFromID(s.ID)
		}
		s.Objectives = trimAll(s.Objectives)
		s.KeyQuestions = trimAll(s.KeyQuestions)
		s.Keywords = trimAll(s.Keywords)
		s.RequirementsSummary = strings.TrimSpace(s.RequirementsSummary)
		s.StyleNotes = strings.TrimSpace(s.StyleNotes)
		out.Sections = append(out.Sections, s)
	}
	return out, nil
}

// Outline converts the plan into pending sections ready for a run.
func (p Plan) Outline() []thesis.Section {
	out := make([]thesis.Section, 0, len(p.Sections))
	for _, s := range p.Sections {
		out = append(out, thesis.Section{
			ID:                  s.ID,
			Title:               s.Title,
			Level:               s.Level,
			Objectives:          s.Objectives,
			RequirementsSummary: s.RequirementsSummary,
			KeyQuestions:        s.KeyQuestions,
			StyleNotes:          s.StyleNotes,
			Keywords:            s.Keywords,
			Status:              thesis.StatusPending,
		})
	}
	return out
}

// LevelFromID returns the depth of a dotted id: "2" and "2." are 1, "2.1" is 2.
func LevelFromID(id string) int {
	n := 0
	for _, part := range strings.Split(strings.TrimSpace(id), ".") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
