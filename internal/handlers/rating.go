package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
	"github.com/temcen/recengine/pkg/models"
)

type RatingHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
	validator   *validator.Validate
}

func NewRatingHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *RatingHandler {
	return &RatingHandler{
		recommender: recommender,
		logger:      logger,
		validator:   validator.New(),
	}
}

// Rate handles POST /users/:userId/ratings.
func (h *RatingHandler) Rate(c *gin.Context) {
	var req models.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to bind rate request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	event := models.RatingEvent{
		UserID:    c.Param("userId"),
		ItemID:    req.ItemID,
		Rating:    *req.Rating,
		Timestamp: req.Timestamp,
	}

	if err := h.recommender.Rate(c.Request.Context(), event); err != nil {
		if errors.Is(err, services.ErrInvalidRating) {
			abortWithError(c, http.StatusBadRequest, "INVALID_RATING", err.Error())
			return
		}
		h.logger.WithError(err).WithField("user_id", event.UserID).Error("Failed to record rating")
		abortWithError(c, http.StatusInternalServerError, "RATING_FAILED", "Failed to record rating")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "accepted",
		"rating": event,
	})
}

// History handles GET /users/:userId/history.
func (h *RatingHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, h.recommender.History(c.Request.Context(), c.Param("userId")))
}
