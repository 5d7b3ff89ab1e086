package journal

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/extract"
	"thesis-backend/internal/shared/server/middleware"
	"thesis-backend/internal/shared/server/respond"
)

const maxUploadSize = 10 << 20 // 10MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches journal routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/journal/entries", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	reviewerID := middleware.ReviewerIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	entry, err := h.Svc.Upload(c.Request.Context(), reviewerID, fileHeader.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, extract.ErrUnsupported):
			respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_file", err.Error(), nil)
		case errors.Is(err, ErrNoIndex):
			respond.Error(c, http.StatusServiceUnavailable, "retrieval_disabled", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to index journal file", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, entry)
}
