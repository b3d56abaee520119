package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/services"
)

const (
	defaultRecommendationCount = 10
	maxRecommendationCount     = 100
)

type RecommendationHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewRecommendationHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Get handles GET /users/:userId/recommendations?count=N.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID := c.Param("userId")

	count := defaultRecommendationCount
	if countStr := c.Query("count"); countStr != "" {
		parsed, err := strconv.Atoi(countStr)
		if err != nil || parsed < 0 || parsed > maxRecommendationCount {
			abortWithError(c, http.StatusBadRequest, "INVALID_COUNT", "count must be an integer between 0 and 100")
			return
		}
		count = parsed
	}

	resp, err := h.recommender.Recommend(c.Request.Context(), userID, count)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to generate recommendations")
		abortWithError(c, http.StatusInternalServerError, "RECOMMENDATION_FAILED", "Failed to generate recommendations")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Predict handles GET /users/:userId/items/:itemId/prediction.
func (h *RecommendationHandler) Predict(c *gin.Context) {
	userID := c.Param("userId")
	itemID := c.Param("itemId")

	resp, err := h.recommender.PredictRating(c.Request.Context(), userID, itemID)
	if err != nil {
		if errors.Is(err, engine.ErrUnresolvableQuery) {
			abortWithError(c, http.StatusNotFound, "UNRESOLVABLE_QUERY", "No rating can be estimated for this user and item")
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"item_id": itemID,
		}).Error("Failed to predict rating")
		abortWithError(c, http.StatusInternalServerError, "PREDICTION_FAILED", "Failed to predict rating")
		return
	}

	c.JSON(http.StatusOK, resp)
}
