package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/journal"
	"thesis-backend/internal/runs"
	"thesis-backend/internal/services/health"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/metrics"
	"thesis-backend/internal/shared/server/middleware"
	"thesis-backend/internal/shared/server/respond"
)

// Rate limit groups.
const (
	groupDefault   = "DEFAULT"
	groupRunCreate = "RUN_CREATE"
	groupRunDrive  = "RUN_DRIVE"
	groupReview    = "REVIEW"
	groupJournal   = "JOURNAL_UPLOAD"
)

// RouterDeps are the handlers the router mounts. Nil handlers are skipped.
type RouterDeps struct {
	Config         config.Config
	RunsHandler    *runs.Handler
	JournalHandler *journal.Handler
	Health         *health.Service
	Limiter        *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil, deps.Config.CheckpointStore, deps.Config.LLMProvider)
	}
	r.GET("/api/v1/health", func(c *gin.Context) {
		status := healthSvc.Status(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: groupDefault,
			GroupFor:     rateLimitGroup,
			Limiter:      deps.Limiter,
			Rules: map[string]middleware.RateLimitRule{
				groupRunCreate: {Rate: 0.2, Burst: 3},
				groupRunDrive:  {Rate: 2, Burst: 10},
				groupReview:    {Rate: 1, Burst: 5},
				groupJournal:   {Rate: 0.1, Burst: 5},
			},
		}),
	)
	api.GET("/me", meHandler)
	if deps.RunsHandler != nil {
		deps.RunsHandler.RegisterRoutes(api)
		deps.RunsHandler.RegisterReviewRoutes(api)
	}
	if deps.JournalHandler != nil {
		deps.JournalHandler.RegisterRoutes(api)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method != http.MethodPost {
		return groupDefault
	}
	switch c.FullPath() {
	case "/api/v1/runs":
		return groupRunCreate
	case "/api/v1/runs/:id/step", "/api/v1/runs/:id/advance":
		return groupRunDrive
	case "/api/v1/runs/:id/review":
		return groupReview
	case "/api/v1/journal/entries":
		return groupJournal
	default:
		return groupDefault
	}
}

func meHandler(c *gin.Context) {
	reviewerID := middleware.ReviewerIDFromContext(c)
	if reviewerID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"reviewerId": reviewerID,
	}
	if name := middleware.ReviewerNameFromContext(c); name != "" {
		response["name"] = name
	}
	if role := middleware.ReviewerRoleFromContext(c); role != "" {
		response["role"] = role
	}

	respond.JSON(c, http.StatusOK, response)
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
