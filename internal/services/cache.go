package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RecommendationCache stores ranked item ids per (user, list length).
// Implementations must tolerate backend failures by reporting a miss.
type RecommendationCache interface {
	Get(ctx context.Context, userID string, n int) ([]string, bool)
	Set(ctx context.Context, userID string, n int, items []string)
	// Invalidate drops every cached list of one user.
	Invalidate(ctx context.Context, userID string)
	// Reset makes every cached list unreachable, e.g. after a rebuild.
	Reset(ctx context.Context)
}

// RedisCache keeps one hash per user, keyed by list length. Keys carry a
// generation number so Reset needs no key scan; stale generations expire by
// TTL.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	generation atomic.Int64
	logger     *logrus.Logger
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) key(userID string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, c.generation.Load(), userID)
}

func (c *RedisCache) Get(ctx context.Context, userID string, n int) ([]string, bool) {
	data, err := c.client.HGet(ctx, c.key(userID), strconv.Itoa(n)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Recommendation cache read failed")
		}
		return nil, false
	}

	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		c.logger.WithError(err).Warn("Discarding malformed cache entry")
		return nil, false
	}
	return items, true
}

func (c *RedisCache) Set(ctx context.Context, userID string, n int, items []string) {
	data, err := json.Marshal(items)
	if err != nil {
		return
	}

	key := c.key(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(n), data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to cache recommendations")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate user cache")
	}
}

func (c *RedisCache) Reset(context.Context) {
	c.generation.Add(1)
}
