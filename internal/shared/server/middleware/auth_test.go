package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/shared/auth"
	"thesis-backend/internal/shared/telemetry"
)

func newAuthRouter(env string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(env))
	router.GET("/api/v1/runs/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"reviewer": ReviewerIDFromContext(c),
			"role":     ReviewerRoleFromContext(c),
			"name":     ReviewerNameFromContext(c),
		})
	})
	router.OPTIONS("/api/v1/runs/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs/run-1", nil)
	resp := httptest.NewRecorder()
	newAuthRouter("dev").ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAuthIdentity(t *testing.T) {
	prev := telemetry.SetOutput(io.Discard)
	defer telemetry.SetOutput(prev)
	t.Setenv("ENV", "dev")
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := auth.SignJWT(auth.Claims{Sub: "prof-1", Role: "supervisor"})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	tests := []struct {
		name   string
		env    string
		header map[string]string
		want   int
		body   string
	}{
		{name: "bearer", env: "production", header: map[string]string{"Authorization": "Bearer " + token}, want: http.StatusOK, body: `"reviewer":"prof-1"`},
		{name: "bad bearer", env: "dev", header: map[string]string{"Authorization": "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "basic scheme", env: "dev", header: map[string]string{"Authorization": "Basic abc"}, want: http.StatusUnauthorized},
		{name: "dev header", env: "dev", header: map[string]string{ReviewerHeader: "alice"}, want: http.StatusOK, body: `"reviewer":"dev:alice"`},
		{name: "header refused in production", env: "production", header: map[string]string{ReviewerHeader: "alice"}, want: http.StatusUnauthorized},
		{name: "anonymous", env: "dev", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp := httptest.NewRecorder()
			newAuthRouter(tt.env).ServeHTTP(resp, req)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if tt.body != "" && !strings.Contains(resp.Body.String(), tt.body) {
				t.Fatalf("expected body to contain %s, got %s", tt.body, resp.Body.String())
			}
		})
	}
}
