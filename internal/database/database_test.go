package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/recengine/internal/config"
)

func TestNew_NothingConfigured(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := New(&config.Config{}, logger)
	require.NoError(t, err)

	assert.Nil(t, db.PG)
	assert.Nil(t, db.Neo4j)
	assert.Nil(t, db.Redis)

	assert.Equal(t, map[string]string{
		"postgres": "disabled",
		"neo4j":    "disabled",
		"redis":    "disabled",
	}, db.Health(context.Background()))
	assert.NoError(t, db.Close())
}

func TestNew_InvalidPostgresURL(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{}
	cfg.Database.URL = "postgres://%zz"

	_, err := New(cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgreSQL")
}

func TestRedisOptions(t *testing.T) {
	t.Run("bare address", func(t *testing.T) {
		opts, err := redisOptions(config.RedisConfig{URL: "localhost:6379", MaxRetries: 2, PoolSize: 5, Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, 2, opts.MaxRetries)
		assert.Equal(t, 5, opts.PoolSize)
		assert.Equal(t, time.Second, opts.ReadTimeout)
	})

	t.Run("url with database", func(t *testing.T) {
		opts, err := redisOptions(config.RedisConfig{URL: "redis://cache:6380/2"})
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, 2, opts.DB)
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, err := redisOptions(config.RedisConfig{URL: "http://cache:6380"})
		assert.Error(t, err)
	})
}
