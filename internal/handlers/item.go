package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
	"github.com/temcen/recengine/pkg/models"
)

const defaultSearchLimit = 20

type ItemHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewItemHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *ItemHandler {
	return &ItemHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Search handles GET /items/search?q=...&limit=N.
func (h *ItemHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		abortWithError(c, http.StatusBadRequest, "MISSING_QUERY", "Query parameter q is required")
		return
	}

	limit := defaultSearchLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, models.ItemSearchResponse{
		Query: query,
		Items: h.recommender.FindItems(query, limit),
	})
}
