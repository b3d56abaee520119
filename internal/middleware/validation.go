package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/temcen/recengine/internal/validation"
)

const maxBodyBytes = 1 << 20

// ValidateRateRequest checks the request body against the rate-request
// schema and restores it for the handler.
func ValidateRateRequest(validator *validation.SchemaValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			abort(c, http.StatusBadRequest, "BODY_READ_ERROR", "Failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if len(body) == 0 {
			abort(c, http.StatusBadRequest, "EMPTY_BODY", "Request body is required")
			return
		}

		result := validator.ValidateRateRequest(body)
		if !result.Valid {
			c.AbortWithStatusJSON(http.StatusBadRequest, result.ToAPIError())
			return
		}

		c.Next()
	}
}
