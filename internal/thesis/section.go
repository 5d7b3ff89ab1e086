package thesis

import (
	"strings"
	"time"
)

// SectionStatus is the lifecycle status of a single outline section.
type SectionStatus string

const (
	StatusPending               SectionStatus = "pending"
	StatusContextRetrieved      SectionStatus = "context_retrieved"
	StatusDraftGenerated        SectionStatus = "draft_generated"
	StatusCritiqued             SectionStatus = "critiqued"
	StatusReviewPending         SectionStatus = "human_review_pending"
	StatusModificationRequested SectionStatus = "modification_requested"
	StatusApproved              SectionStatus = "content_approved"
	StatusError                 SectionStatus = "error"
	StatusSkipped               SectionStatus = "skipped_by_user"
)

var allStatuses = []SectionStatus{
	StatusPending,
	StatusContextRetrieved,
	StatusDraftGenerated,
	StatusCritiqued,
	StatusReviewPending,
	StatusModificationRequested,
	StatusApproved,
	StatusError,
	StatusSkipped,
}

// Terminal reports whether no further automatic work happens on a section in this status.
func (s SectionStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s SectionStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Recommendation is the critic's verdict on a draft.
type Recommendation string

const (
	RecommendRevise         Recommendation = "revise"
	RecommendReadyForReview Recommendation = "ready_for_review"
)

// Critique is a structured evaluation of a draft.
type Critique struct {
	Score              float64        `json:"score"`
	Recommendation     Recommendation `json:"recommendation"`
	Flaws              []string       `json:"flaws,omitempty"`
	MissingItems       []string       `json:"missing_items,omitempty"`
	SuperfluousContent []string       `json:"superfluous_content,omitempty"`
	Summary            string         `json:"summary,omitempty"`
}

// HumanFeedback is the reviewer's last modification request recorded on a section.
type HumanFeedback struct {
	ModificationRequested bool    `json:"modification_requested"`
	FeedbackText          *string `json:"feedback_text,omitempty"`
}

// ReviewAction is the reviewer's decision.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionModify  ReviewAction = "modify"
)

// NormalizeAction maps legacy spellings onto the canonical actions.
// Unknown values are returned trimmed but otherwise unchanged.
func NormalizeAction(raw string) ReviewAction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve", "approve_section", "approved":
		return ActionApprove
	case "modify", "modify_section":
		return ActionModify
	default:
		return ReviewAction(strings.TrimSpace(raw))
	}
}

// HumanResponse is a decision delivered through the review channel.
type HumanResponse struct {
	SectionID    string       `json:"section_id"`
	Action       ReviewAction `json:"action"`
	FeedbackText *string      `json:"feedback_text,omitempty"`
	Reviewer     string       `json:"reviewer,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// ReviewRecord is the audit entry written each time a response is consumed.
type ReviewRecord struct {
	Action       ReviewAction `json:"action"`
	FeedbackText string       `json:"feedback_text,omitempty"`
	Reviewer     string       `json:"reviewer,omitempty"`
	Outcome      string       `json:"outcome"`
	At           time.Time    `json:"at"`
}

// Excerpt is one journal passage returned by retrieval.
type Excerpt struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Section is one outline entry and its lifecycle data.
type Section struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Level               int      `json:"level"`
	Objectives          []string `json:"objectives,omitempty"`
	RequirementsSummary string   `json:"requirements_summary,omitempty"`
	KeyQuestions        []string `json:"key_questions,omitempty"`
	StyleNotes          string   `json:"style_notes,omitempty"`
	Keywords            []string `json:"keywords,omitempty"`

	Status               SectionStatus  `json:"status"`
	RetrievedExcerpts    []Excerpt      `json:"retrieved_excerpts,omitempty"`
	RetrievedContext     *string        `json:"retrieved_context,omitempty"`
	Draft                *string        `json:"draft,omitempty"`
	CurrentWorkingDraft  *string        `json:"current_working_draft,omitempty"`
	RevisedDraft         *string        `json:"revised_draft,omitempty"`
	Critique             *Critique      `json:"critique,omitempty"`
	ReflectionAttempts   int            `json:"reflection_attempts"`
	ReflectionHistory    []Critique     `json:"reflection_history,omitempty"`
	HumanFeedback        *HumanFeedback `json:"human_feedback,omitempty"`
	FinalContent         *string        `json:"final_content,omitempty"`
	PendingHumanResponse *HumanResponse `json:"pending_human_response,omitempty"`
	ErrorDetails         []string       `json:"error_details,omitempty"`
	ReviewHistory        []ReviewRecord `json:"review_history,omitempty"`
}

// Clone returns a deep copy so step functions never alias checkpointed data.
func (s Section) Clone() Section {
	out := s
	out.Objectives = cloneStrings(s.Objectives)
	out.KeyQuestions = cloneStrings(s.KeyQuestions)
	out.Keywords = cloneStrings(s.Keywords)
	out.ErrorDetails = cloneStrings(s.ErrorDetails)
	if s.RetrievedExcerpts != nil {
		out.RetrievedExcerpts = append([]Excerpt(nil), s.RetrievedExcerpts...)
	}
	out.RetrievedContext = cloneString(s.RetrievedContext)
	out.Draft = cloneString(s.Draft)
	out.CurrentWorkingDraft = cloneString(s.CurrentWorkingDraft)
	out.RevisedDraft = cloneString(s.RevisedDraft)
	out.FinalContent = cloneString(s.FinalContent)
	if s.Critique != nil {
		c := s.Critique.clone()
		out.Critique = &c
	}
	if s.ReflectionHistory != nil {
		out.ReflectionHistory = make([]Critique, len(s.ReflectionHistory))
		for i, c := range s.ReflectionHistory {
			out.ReflectionHistory[i] = c.clone()
		}
	}
	if s.HumanFeedback != nil {
		hf := *s.HumanFeedback
		hf.FeedbackText = cloneString(s.HumanFeedback.FeedbackText)
		out.HumanFeedback = &hf
	}
	if s.PendingHumanResponse != nil {
		hr := *s.PendingHumanResponse
		hr.FeedbackText = cloneString(s.PendingHumanResponse.FeedbackText)
		out.PendingHumanResponse = &hr
	}
	if s.ReviewHistory != nil {
		out.ReviewHistory = append([]ReviewRecord(nil), s.ReviewHistory...)
	}
	return out
}

// AddError appends a diagnostic line.
func (s *Section) AddError(msg string) {
	s.ErrorDetails = append(s.ErrorDetails, msg)
}

func (c Critique) clone() Critique {
	c.Flaws = cloneStrings(c.Flaws)
	c.MissingItems = cloneStrings(c.MissingItems)
	c.SuperfluousContent = cloneStrings(c.SuperfluousContent)
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// Deref returns the pointed-to string or "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
