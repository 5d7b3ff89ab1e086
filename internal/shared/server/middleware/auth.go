package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/shared/auth"
	"thesis-backend/internal/shared/server/respond"
)

const (
	reviewerIDKey   = "reviewerId"
	reviewerNameKey = "reviewerName"
	reviewerRoleKey = "reviewerRole"

	// ReviewerHeader carries a reviewer id outside production.
	ReviewerHeader = "X-Reviewer-Id"
)

// Auth resolves the reviewer identity from a bearer JWT. Outside production the
// X-Reviewer-Id header is accepted as a fallback for local tooling.
func Auth(env string) gin.HandlerFunc {
	production := strings.EqualFold(strings.TrimSpace(env), "production")
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			claims, err := auth.VerifyJWT(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(reviewerIDKey, claims.Sub)
			if claims.Name != "" {
				c.Set(reviewerNameKey, claims.Name)
			}
			if claims.Role != "" {
				c.Set(reviewerRoleKey, claims.Role)
			}
			c.Next()
			return
		}

		if !production {
			if id := strings.TrimSpace(c.GetHeader(ReviewerHeader)); id != "" {
				c.Set(reviewerIDKey, "dev:"+id)
				c.Next()
				return
			}
		}
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing identity", nil)
	}
}

// ReviewerIDFromContext fetches the reviewer id set by Auth.
func ReviewerIDFromContext(c *gin.Context) string {
	return stringFromContext(c, reviewerIDKey)
}

// ReviewerNameFromContext fetches the reviewer display name set by Auth.
func ReviewerNameFromContext(c *gin.Context) string {
	return stringFromContext(c, reviewerNameKey)
}

// ReviewerRoleFromContext fetches the reviewer role claim set by Auth.
func ReviewerRoleFromContext(c *gin.Context) string {
	return stringFromContext(c, reviewerRoleKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
