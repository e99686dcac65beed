package middleware

import (
	"net/http"
	"strings"

	"agri-price-api/models"
	"agri-price-api/services"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
	ctxRole   = "role"
)

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

// RequireAuth validates the bearer access token and stores the caller's
// identity on the context.
func RequireAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// OptionalAuth records the caller's identity when a valid bearer token is
// present and lets anonymous requests through.
func OptionalAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if claims, err := auth.ValidateAccessToken(strings.TrimSpace(token)); err == nil {
				c.Set(ctxUserID, claims.UserID)
				c.Set(ctxEmail, claims.Email)
				c.Set(ctxRole, claims.Role)
			}
		}
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != models.RoleAdmin {
			abort(c, http.StatusForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) uint {
	return c.GetUint(ctxUserID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}
