package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/evaluation"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "svd", cfg.Engine.Algorithm)
	assert.Equal(t, 40, cfg.Engine.SVD.Components)
	assert.Equal(t, engine.DefaultMaxCells, cfg.Engine.SVD.MaxCells)
	assert.Equal(t, 5, cfg.Engine.UserCF.NeighborSize)
	assert.Equal(t, "none", cfg.Engine.UserCF.CorrectionMode)
	assert.Equal(t, "avg", cfg.Engine.UserCF.PredictionMode)
	assert.Equal(t, 20, cfg.Engine.UserCF.NeighbourSampleMaxSize)
	assert.False(t, cfg.Engine.UserCF.RestoreBias)
	assert.Equal(t, 50, cfg.Engine.Heuristic.MaxHistory)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Neural.Timeout)
	assert.Equal(t, []int{32, 16, 8}, cfg.Engine.Trainer.DenseSizes)
	assert.Equal(t, "rating-events", cfg.Kafka.Topics.RatingEvents)
	assert.Equal(t, "rating-events-dlq", cfg.Kafka.Topics.DeadLetter)
	assert.Equal(t, 15*time.Minute, cfg.Caching.RecommendationsTTL)
	assert.Equal(t, "movielens", cfg.Loader.Type)
	assert.Equal(t, 10000000, cfg.Loader.Limit)
	assert.Empty(t, cfg.Validation.SchemaDir)

	assert.Equal(t, []evaluation.Partition{
		{Name: "train", Ratio: 0.7},
		{Name: "valid", Ratio: 0.15},
		{Name: "test", Ratio: 0.15},
	}, cfg.Evaluation.Partitions)
	assert.Equal(t, 5, cfg.Evaluation.Options.TopN)
	assert.Equal(t, []string{"train"}, cfg.Evaluation.TrainPartitions)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ENGINE_ALGORITHM", "user_cf")
	t.Setenv("ENGINE_USER_CF_NEIGHBOR_SIZE", "7")
	t.Setenv("ENGINE_USER_CF_CORRECTION_MODE", "subtract_user_mean")
	t.Setenv("LOGGING_LEVEL", "debug")
	t.Setenv("VALIDATION_SCHEMA_DIR", "/etc/recengine/schemas")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "user_cf", cfg.Engine.Algorithm)
	assert.Equal(t, 7, cfg.Engine.UserCF.NeighborSize)
	assert.Equal(t, "subtract_user_mean", cfg.Engine.UserCF.CorrectionMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/etc/recengine/schemas", cfg.Validation.SchemaDir)
}

func TestLoad_RejectsUnknownAlgorithm(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ENGINE_ALGORITHM", "item_cf")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidConfiguration))
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		Engine: EngineConfig{Algorithm: "svd"},
		Loader: LoaderConfig{Type: "none"},
	}
	require.NoError(t, base.Validate())

	postgres := base
	postgres.Loader.Type = "postgres"
	assert.Error(t, postgres.Validate())
	postgres.Database.URL = "postgres://localhost/recengine"
	assert.NoError(t, postgres.Validate())

	neo := base
	neo.Loader.Type = "neo4j"
	assert.Error(t, neo.Validate())

	unknown := base
	unknown.Loader.Type = "s3"
	assert.Error(t, unknown.Validate())
}

func TestRankRange_Values(t *testing.T) {
	assert.Equal(t, []int{10, 25, 40}, RankRange{From: 10, To: 50, Step: 15}.Values())
	assert.Len(t, RankRange{From: 10, To: 190, Step: 15}.Values(), 12)
	assert.Nil(t, RankRange{From: 10, To: 50}.Values())
}
