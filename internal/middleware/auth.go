package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
	"github.com/temcen/recengine/pkg/models"
)

const claimsKey = "claims"

// Auth checks the bearer token and, when roles are given, that the token
// carries one of them. Without a configured signing secret every request
// passes through.
func Auth(tokens services.TokenValidator, logger *logrus.Logger, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "INVALID_AUTHORIZATION_FORMAT", "Authorization header must be in format 'Bearer <token>'")
			return
		}

		claims, err := tokens.ValidateToken(tokenParts[1])
		if err != nil {
			logger.WithError(err).Warn("Invalid JWT token")
			abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			logger.WithFields(logrus.Fields{
				"subject": claims.Subject,
				"role":    claims.Role,
				"path":    c.FullPath(),
			}).Warn("Role not permitted")
			abort(c, http.StatusForbidden, "FORBIDDEN", "Insufficient role for this operation")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// SelfOrAdmin rejects requests where a non-admin token acts on another
// user's resource, identified by the named path parameter.
func SelfOrAdmin(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok || claims.Role == services.RoleAdmin || claims.Subject == c.Param(param) {
			c.Next()
			return
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "Tokens may only rate as their own subject")
	}
}

// ClaimsFromContext returns the claims set by Auth, if any.
func ClaimsFromContext(c *gin.Context) (*models.JWTClaims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*models.JWTClaims)
	return claims, ok
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
