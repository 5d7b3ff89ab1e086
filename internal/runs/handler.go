package runs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/checkpoint"
	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/plan"
	"thesis-backend/internal/shared/server/middleware"
	"thesis-backend/internal/shared/server/respond"
	"thesis-backend/internal/thesis"
)

// Handler exposes runs and the review channel over HTTP.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches run routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/runs", h.create)
	rg.GET("/runs/:id", h.get)
	rg.POST("/runs/:id/step", h.step)
	rg.POST("/runs/:id/advance", h.advance)
	rg.GET("/runs/:id/document", h.document)
}

// RegisterReviewRoutes attaches the review channel, kept separate so it can
// carry its own rate limit.
func (h *Handler) RegisterReviewRoutes(rg *gin.RouterGroup) {
	rg.GET("/runs/:id/review", h.pendingReview)
	rg.POST("/runs/:id/review", h.submitReview)
}

type createRunRequest struct {
	RunID       string             `json:"runId"`
	Persona     string             `json:"persona"`
	Sections    []plan.SectionSpec `json:"sections"`
	AutoAdvance bool               `json:"autoAdvance"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	st, err := h.Svc.Create(c.Request.Context(), CreateRequest{
		RunID:    req.RunID,
		Persona:  req.Persona,
		Sections: req.Sections,
	})
	if err != nil {
		writeError(c, err, "failed to create run")
		return
	}
	c.Set(middleware.RunIDKey, st.RunID)

	resp := gin.H{"run": toRunResponse(st)}
	if req.AutoAdvance {
		adv, err := h.Svc.Advance(c.Request.Context(), st.RunID)
		if err != nil {
			writeError(c, err, "failed to schedule run")
			return
		}
		resp["advance"] = adv
	}
	respond.JSON(c, http.StatusCreated, resp)
}

func (h *Handler) get(c *gin.Context) {
	runID := runParam(c)
	st, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err, "failed to fetch run")
		return
	}
	if c.Query("full") == "1" {
		respond.OK(c, st)
		return
	}
	respond.OK(c, toRunResponse(st))
}

func (h *Handler) step(c *gin.Context) {
	runID := runParam(c)
	out, err := h.Svc.StepOnce(c.Request.Context(), runID)
	if err != nil && !errors.Is(err, orchestrator.ErrCompile) {
		writeError(c, err, "failed to step run")
		return
	}
	setTransition(c, out)

	resp := stepResponse{
		Performed: string(out.Performed),
		Review:    string(out.Review),
		Suspended: out.Suspended,
		Completed: out.Completed,
		Run:       toRunResponse(out.State),
	}
	if out.Decision != nil {
		resp.Decision = &decisionResponse{
			Action:    string(out.Decision.Action),
			SectionID: out.Decision.SectionID,
			Warning:   out.Decision.Warning,
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	respond.OK(c, resp)
}

func (h *Handler) advance(c *gin.Context) {
	runID := runParam(c)
	res, err := h.Svc.Advance(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err, "failed to schedule run")
		return
	}
	respond.Accepted(c, res)
}

func (h *Handler) pendingReview(c *gin.Context) {
	runID := runParam(c)
	view, err := h.Svc.PendingReview(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err, "failed to fetch review")
		return
	}
	if view.Interrupt != nil {
		c.Set(middleware.SectionIDKey, view.Interrupt.SectionID)
	}
	respond.OK(c, view)
}

type submitReviewRequest struct {
	SectionID    string  `json:"sectionId"`
	Action       string  `json:"action"`
	FeedbackText *string `json:"feedbackText"`
}

func (h *Handler) submitReview(c *gin.Context) {
	runID := runParam(c)
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "action is required", nil)
		return
	}
	if req.SectionID != "" {
		c.Set(middleware.SectionIDKey, strings.TrimSpace(req.SectionID))
	}

	reviewer := middleware.ReviewerIDFromContext(c)
	if name := middleware.ReviewerNameFromContext(c); name != "" {
		reviewer = name
	}
	st, err := h.Svc.SubmitReview(c.Request.Context(), runID, thesis.HumanResponse{
		SectionID:    req.SectionID,
		Action:       thesis.ReviewAction(req.Action),
		FeedbackText: req.FeedbackText,
		Reviewer:     reviewer,
	})
	if err != nil {
		writeError(c, err, "failed to submit review")
		return
	}
	respond.Accepted(c, toRunResponse(st))
}

func (h *Handler) document(c *gin.Context) {
	runID := runParam(c)
	format := c.DefaultQuery("format", FormatMarkdown)
	rc, contentType, err := h.Svc.Document(c.Request.Context(), runID, format)
	if err != nil {
		writeError(c, err, "failed to open document")
		return
	}
	defer rc.Close()

	ext := FormatMarkdown
	if strings.HasPrefix(contentType, "text/html") {
		ext = FormatHTML
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "thesis."+ext))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}

func runParam(c *gin.Context) string {
	runID := strings.TrimSpace(c.Param("id"))
	c.Set(middleware.RunIDKey, runID)
	return runID
}

func setTransition(c *gin.Context, out orchestrator.Outcome) {
	id := out.State.CurrentSectionID
	if id == "" {
		return
	}
	c.Set(middleware.SectionIDKey, id)
	if idx := out.State.SectionIndex(id); idx >= 0 && out.Performed != "" {
		c.Set(middleware.StatusTransitionKey, string(out.Performed)+"->"+string(out.State.Outline[idx].Status))
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
	case errors.Is(err, ErrNoPendingReview):
		respond.Error(c, http.StatusNotFound, "no_pending_review", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, orchestrator.ErrInvalidResponse),
		errors.Is(err, orchestrator.ErrEmptyOutline):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrRunExists):
		respond.Error(c, http.StatusConflict, "run_exists", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotAwaitingReview):
		respond.Error(c, http.StatusConflict, "not_awaiting_review", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrResponseAlreadyPending):
		respond.Error(c, http.StatusConflict, "response_pending", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrRunCompleted):
		respond.Error(c, http.StatusConflict, "run_completed", err.Error(), nil)
	case errors.Is(err, ErrDocumentNotReady):
		respond.Error(c, http.StatusConflict, "document_not_ready", err.Error(), nil)
	case errors.Is(err, checkpoint.ErrVersionConflict):
		respond.Error(c, http.StatusConflict, "version_conflict", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

type stepResponse struct {
	Performed string            `json:"performed"`
	Decision  *decisionResponse `json:"decision,omitempty"`
	Review    string            `json:"review,omitempty"`
	Suspended bool              `json:"suspended"`
	Completed bool              `json:"completed"`
	Error     string            `json:"error,omitempty"`
	Run       runResponse       `json:"run"`
}

type decisionResponse struct {
	Action    string `json:"action"`
	SectionID string `json:"sectionId,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type sectionResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Level              int      `json:"level"`
	Status             string   `json:"status"`
	ReflectionAttempts int      `json:"reflectionAttempts"`
	Score              *float64 `json:"score,omitempty"`
	LastError          string   `json:"lastError,omitempty"`
}

type runResponse struct {
	RunID            string                   `json:"runId"`
	Phase            string                   `json:"phase"`
	NextStep         string                   `json:"nextStep"`
	CurrentSectionID string                   `json:"currentSectionId,omitempty"`
	Warning          string                   `json:"warning,omitempty"`
	Completed        bool                     `json:"completed"`
	Version          int64                    `json:"version"`
	Interrupt        *thesis.InterruptPayload `json:"interrupt,omitempty"`
	Document         *thesis.DocumentRef      `json:"document,omitempty"`
	Sections         []sectionResponse        `json:"sections"`
	UpdatedAt        time.Time                `json:"updatedAt"`
}

func toRunResponse(st thesis.State) runResponse {
	resp := runResponse{
		RunID:            st.RunID,
		Phase:            string(st.Phase()),
		NextStep:         string(st.NextStep),
		CurrentSectionID: st.CurrentSectionID,
		Warning:          st.Warning,
		Completed:        st.Completed,
		Version:          st.Version,
		Interrupt:        st.Interrupt,
		Document:         st.Document,
		Sections:         make([]sectionResponse, 0, len(st.Outline)),
		UpdatedAt:        st.UpdatedAt,
	}
	for _, sec := range st.Outline {
		item := sectionResponse{
			ID:                 sec.ID,
			Title:              sec.Title,
			Level:              sec.Level,
			Status:             string(sec.Status),
			ReflectionAttempts: sec.ReflectionAttempts,
		}
		if n := len(sec.ErrorDetails); n > 0 {
			item.LastError = sec.ErrorDetails[n-1]
		}
		if sec.Critique != nil {
			score := sec.Critique.Score
			item.Score = &score
		}
		resp.Sections = append(resp.Sections, item)
	}
	return resp
}
