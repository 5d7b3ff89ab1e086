package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/shared/telemetry"
)

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	var fromCtx string
	router.GET("/x", func(c *gin.Context) {
		fromCtx = telemetry.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "keeps valid", incoming: "req-1", keep: true},
		{name: "replaces spaces", incoming: "a b", keep: false},
		{name: "replaces long", incoming: strings.Repeat("x", 200), keep: false},
		{name: "generates", incoming: "", keep: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-Id", tt.incoming)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			got := resp.Header().Get("X-Request-Id")
			if got == "" || got != fromCtx {
				t.Fatalf("header %q and context %q must match", got, fromCtx)
			}
			if (got == tt.incoming) != tt.keep {
				t.Fatalf("keep=%v but got %q for %q", tt.keep, got, tt.incoming)
			}
		})
	}
}
