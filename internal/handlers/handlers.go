package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Rating         *RatingHandler
	Item           *ItemHandler
	Admin          *AdminHandler
	Token          *TokenHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Recommendation: NewRecommendationHandler(services.Recommender, logger),
		Rating:         NewRatingHandler(services.Recommender, logger),
		Item:           NewItemHandler(services.Recommender, logger),
		Admin:          NewAdminHandler(services.Recommender, logger),
		Token:          NewTokenHandler(services.Auth, logger),
	}
}

// abortWithError writes the standard error envelope.
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
