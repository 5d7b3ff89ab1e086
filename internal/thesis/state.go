package thesis

import (
	"errors"
	"fmt"
	"time"
)

// Step names the next unit of work the orchestrator will perform for a run.
type Step string

const (
	StepRoute    Step = "route"
	StepDraft    Step = "draft"
	StepCritique Step = "critique"
	StepReview   Step = "review"
	StepDone     Step = "done"
)

// InterruptPayload is what the review channel shows a reviewer while a run is suspended.
type InterruptPayload struct {
	Step         string    `json:"step"`
	SectionID    string    `json:"section_id"`
	Title        string    `json:"title"`
	DraftContent string    `json:"draft_content"`
	Critique     *Critique `json:"critique,omitempty"`
	Instructions string    `json:"instructions"`
}

// DocumentRef points at a compiled document in object storage.
type DocumentRef struct {
	MarkdownKey string    `json:"markdown_key"`
	HTMLKey     string    `json:"html_key,omitempty"`
	Sections    int       `json:"sections"`
	Approved    int       `json:"approved"`
	CompiledAt  time.Time `json:"compiled_at"`
}

// State is the full orchestration state of one run and the unit of checkpointing.
type State struct {
	RunID               string            `json:"run_id"`
	Persona             string            `json:"persona,omitempty"`
	Outline             []Section         `json:"outline"`
	RouterIndex         int               `json:"router_index"`
	CurrentSectionID    string            `json:"current_section_id,omitempty"`
	CurrentSectionIndex *int              `json:"current_section_index,omitempty"`
	NextStep            Step              `json:"next_step"`
	Interrupt           *InterruptPayload `json:"interrupt,omitempty"`
	Warning             string            `json:"warning,omitempty"`
	LastStep            string            `json:"last_step,omitempty"`
	Completed           bool              `json:"completed"`
	Document            *DocumentRef      `json:"document,omitempty"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// RunPhase is a coarse run status derived from State, used for listings and storage.
type RunPhase string

const (
	PhaseRunning        RunPhase = "running"
	PhaseAwaitingReview RunPhase = "awaiting_review"
	PhaseCompleted      RunPhase = "completed"
)

// Phase derives the run phase.
func (s State) Phase() RunPhase {
	switch {
	case s.Completed:
		return PhaseCompleted
	case s.Interrupt != nil:
		return PhaseAwaitingReview
	default:
		return PhaseRunning
	}
}

// Suspended reports whether the run is waiting on a human decision.
func (s State) Suspended() bool {
	return s.Interrupt != nil
}

// SectionIndex returns the outline position of id, or -1.
func (s State) SectionIndex(id string) int {
	for i := range s.Outline {
		if s.Outline[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	if s.Outline != nil {
		out.Outline = make([]Section, len(s.Outline))
		for i, sec := range s.Outline {
			out.Outline[i] = sec.Clone()
		}
	}
	if s.CurrentSectionIndex != nil {
		idx := *s.CurrentSectionIndex
		out.CurrentSectionIndex = &idx
	}
	if s.Interrupt != nil {
		ip := *s.Interrupt
		if s.Interrupt.Critique != nil {
			c := s.Interrupt.Critique.clone()
			ip.Critique = &c
		}
		out.Interrupt = &ip
	}
	if s.Document != nil {
		doc := *s.Document
		out.Document = &doc
	}
	return out
}

// ErrSectionMismatch is returned when a patch targets a section that is not at the given index.
var ErrSectionMismatch = errors.New("section update does not match outline entry")

// SectionUpdate replaces one outline entry.
type SectionUpdate struct {
	Index   int
	Section Section
}

// Patch is a partial update produced by one orchestrator step.
// Nil fields leave state untouched.
type Patch struct {
	RouterIndex         *int
	CurrentSectionID    *string
	CurrentSectionIndex *int
	NextStep            *Step
	Section             *SectionUpdate
	ClearInterrupt      bool
	Interrupt           *InterruptPayload
	Warning             *string
	LastStep            *string
	Completed           *bool
	Document            *DocumentRef
}

// Apply merges p into a copy of s. ClearInterrupt runs before Interrupt so one
// patch can replace a payload.
func (s State) Apply(p Patch) (State, error) {
	out := s.Clone()
	if p.Section != nil {
		idx := p.Section.Index
		if idx < 0 || idx >= len(out.Outline) {
			return s, fmt.Errorf("%w: index %d out of range", ErrSectionMismatch, idx)
		}
		if out.Outline[idx].ID != p.Section.Section.ID {
			return s, fmt.Errorf("%w: index %d holds %q, update is for %q", ErrSectionMismatch, idx, out.Outline[idx].ID, p.Section.Section.ID)
		}
		out.Outline[idx] = p.Section.Section.Clone()
	}
	if p.RouterIndex != nil {
		out.RouterIndex = *p.RouterIndex
	}
	if p.CurrentSectionID != nil {
		out.CurrentSectionID = *p.CurrentSectionID
	}
	if p.CurrentSectionIndex != nil {
		idx := *p.CurrentSectionIndex
		out.CurrentSectionIndex = &idx
	}
	if p.NextStep != nil {
		out.NextStep = *p.NextStep
	}
	if p.ClearInterrupt {
		out.Interrupt = nil
	}
	if p.Interrupt != nil {
		ip := *p.Interrupt
		out.Interrupt = &ip
	}
	if p.Warning != nil {
		out.Warning = *p.Warning
	}
	if p.LastStep != nil {
		out.LastStep = *p.LastStep
	}
	if p.Completed != nil {
		out.Completed = *p.Completed
	}
	if p.Document != nil {
		doc := *p.Document
		out.Document = &doc
	}
	return out, nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StepPtr returns a pointer to v.
func StepPtr(v Step) *Step { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
