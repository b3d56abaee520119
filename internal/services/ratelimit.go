package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/pkg/models"
)

// RateLimitService is a Redis sliding-window limiter keyed by caller.
type RateLimitService struct {
	limit       int
	window      time.Duration
	logger      *logrus.Logger
	redisClient redis.Cmdable
	now         func() time.Time
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient redis.Cmdable) *RateLimitService {
	return &RateLimitService{
		limit:       cfg.Requests,
		window:      cfg.Window,
		logger:      logger,
		redisClient: redisClient,
		now:         time.Now,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, key string) (*models.RateLimitInfo, error) {
	now := s.now()
	windowStart := now.Add(-s.window)
	redisKey := fmt.Sprintf("rate_limit:%s", key)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, redisKey, s.window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		// Return permissive result if Redis is down
		return &models.RateLimitInfo{
			Limit:     s.limit,
			Remaining: s.limit - 1,
			ResetTime: now.Add(s.window).Unix(),
		}, nil
	}

	remaining := s.limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitInfo{
		Limit:     s.limit,
		Remaining: remaining,
		ResetTime: now.Add(s.window).Unix(),
	}, nil
}

func (s *RateLimitService) IsAllowed(ctx context.Context, key string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}
