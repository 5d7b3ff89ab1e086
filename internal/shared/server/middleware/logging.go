package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/shared/telemetry"
)

// Context keys handlers set so the request log carries run details.
const (
	RunIDKey            = "runId"
	SectionIDKey        = "sectionId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		telemetry.Info("request.complete", map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"status_transition": c.GetString(StatusTransitionKey),
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"reviewer_id":       ReviewerIDFromContext(c),
			"run_id":            c.GetString(RunIDKey),
			"section_id":        c.GetString(SectionIDKey),
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		})
	}
}
