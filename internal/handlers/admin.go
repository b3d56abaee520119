package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
)

type AdminHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewAdminHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Rebuild handles POST /admin/rebuild. The build runs in the request; for
// large datasets callers should raise their client timeout.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	resp, err := h.recommender.Rebuild(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Rebuild failed")
		abortWithError(c, http.StatusInternalServerError, "REBUILD_FAILED", err.Error())
		return
	}

	h.logger.WithFields(logrus.Fields{
		"algorithm": resp.Algorithm,
		"users":     resp.Users,
		"items":     resp.Items,
		"duration":  resp.Duration,
	}).Info("Engine rebuilt via admin API")

	c.JSON(http.StatusOK, resp)
}
