package services

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/messaging"
	"github.com/temcen/recengine/internal/validation"
)

type Services struct {
	Auth        *AuthService
	Health      *HealthService
	Recommender *RecommenderService
	Validator   *validation.SchemaValidator
	Stream      *messaging.RatingStream // nil without Kafka brokers
	RateLimit   *RateLimitService       // nil without Redis
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	validator, err := NewSchemaValidator(cfg.Validation, logger)
	if err != nil {
		return nil, err
	}

	eng, err := NewEngine(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	src, err := NewLoader(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	opts := []RecommenderOption{
		WithLoader(src),
		WithMetrics(NewMetrics(reg)),
		WithOnlineUpdates(cfg.Engine.OnlineUpdates),
	}
	if db.Redis != nil {
		opts = append(opts, WithCache(NewRedisCache(db.Redis, "recs:"+eng.Name(), cfg.Caching.RecommendationsTTL, logger)))
	}
	recommender := NewRecommenderService(eng, logger, opts...)

	var stream *messaging.RatingStream
	if len(cfg.Kafka.Brokers) > 0 {
		stream, err = messaging.NewRatingStream(cfg, validator, logger)
		if err != nil {
			return nil, err
		}
	}

	var rateLimit *RateLimitService
	var sessions SessionStore
	if db.Redis != nil {
		sessions = NewRedisSessionStore(db.Redis)
		if cfg.Security.RateLimit.Requests > 0 {
			rateLimit = NewRateLimitService(cfg.Security.RateLimit, logger, db.Redis)
		}
	}

	return &Services{
		Auth:        NewAuthService(cfg, logger, sessions),
		Health:      NewHealthService(logger, db, recommender, validator, reg),
		Recommender: recommender,
		Validator:   validator,
		Stream:      stream,
		RateLimit:   rateLimit,
	}, nil
}

// NewSchemaValidator loads the built-in schemas, then the overrides from
// cfg.SchemaDir when set.
func NewSchemaValidator(cfg config.ValidationConfig, logger *logrus.Logger) (*validation.SchemaValidator, error) {
	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	if cfg.SchemaDir == "" {
		return validator, nil
	}

	if err := validator.LoadSchemas(cfg.SchemaDir); err != nil {
		return nil, fmt.Errorf("failed to load schemas from %s: %w", cfg.SchemaDir, err)
	}
	logger.WithFields(logrus.Fields{
		"dir":     cfg.SchemaDir,
		"schemas": validator.GetAvailableSchemas(),
	}).Info("Validation schemas loaded")
	return validator, nil
}
