package services

import (
	"context"

	"github.com/temcen/recengine/pkg/models"
)

// RecommenderServiceInterface is the recommender surface used by the HTTP
// handlers.
type RecommenderServiceInterface interface {
	Algorithm() string
	Recommend(ctx context.Context, userID string, n int) (*models.RecommendationResponse, error)
	PredictRating(ctx context.Context, userID, itemID string) (*models.PredictionResponse, error)
	History(ctx context.Context, userID string) *models.HistoryResponse
	Rate(ctx context.Context, e models.RatingEvent) error
	FindItems(query string, limit int) []models.Item
	Rebuild(ctx context.Context) (*models.RebuildResponse, error)
}

// HealthServiceInterface defines the interface for health reporting
type HealthServiceInterface interface {
	CheckHealth(ctx context.Context) *HealthStatus
}

// TokenValidator defines the interface for bearer token checks
type TokenValidator interface {
	Enabled() bool
	ValidateToken(token string) (*models.JWTClaims, error)
}

// TokenIssuer is the admin surface for issuing and revoking tokens.
type TokenIssuer interface {
	GenerateToken(subject, role string) (*models.AuthResponse, error)
	RevokeToken(subject string) error
}

var (
	_ RecommenderServiceInterface = (*RecommenderService)(nil)
	_ HealthServiceInterface      = (*HealthService)(nil)
	_ TokenValidator              = (*AuthService)(nil)
	_ TokenIssuer                 = (*AuthService)(nil)
)
