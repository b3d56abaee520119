package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
	"github.com/temcen/recengine/pkg/models"
)

// TokenHandler lets admins issue and revoke bearer tokens.
type TokenHandler struct {
	tokens services.TokenIssuer
	logger *logrus.Logger
}

func NewTokenHandler(tokens services.TokenIssuer, logger *logrus.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logger,
	}
}

// Issue handles POST /admin/tokens.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}

	resp, err := h.tokens.GenerateToken(req.Subject, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"subject": req.Subject,
		"role":    req.Role,
	}).Info("Token issued")
	c.JSON(http.StatusCreated, resp)
}

// Revoke handles DELETE /admin/tokens/:subject.
func (h *TokenHandler) Revoke(c *gin.Context) {
	subject := c.Param("subject")
	if err := h.tokens.RevokeToken(subject); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.WithField("subject", subject).Info("Token revoked")
	c.Status(http.StatusNoContent)
}

func (h *TokenHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAuthDisabled):
		abortWithError(c, http.StatusServiceUnavailable, "AUTH_DISABLED", err.Error())
	case errors.Is(err, services.ErrSessionsDisabled):
		abortWithError(c, http.StatusNotImplemented, "SESSIONS_DISABLED", err.Error())
	default:
		h.logger.WithError(err).Error("Token operation failed")
		abortWithError(c, http.StatusInternalServerError, "TOKEN_FAILED", err.Error())
	}
}
