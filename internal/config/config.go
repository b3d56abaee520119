package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/evaluation"
	"github.com/temcen/recengine/internal/ml"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Caching    CachingConfig    `mapstructure:"caching"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
	Validation ValidationConfig `mapstructure:"validation"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig is the PostgreSQL pool. An empty URL disables it.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig backs the recommendation cache. An empty URL disables it.
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// KafkaConfig configures the rating stream. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		RatingEvents string `mapstructure:"rating_events"`
		DeadLetter   string `mapstructure:"dead_letter"`
	} `mapstructure:"topics"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig selects the served algorithm and carries every engine's
// parameters so the algorithm can be switched without editing other keys.
type EngineConfig struct {
	Algorithm string                 `mapstructure:"algorithm"` // svd, user_cf, average, heuristic, neural
	SVD       engine.SVDConfig       `mapstructure:"svd"`
	UserCF    engine.UserCFConfig    `mapstructure:"user_cf"`
	Heuristic engine.HeuristicConfig `mapstructure:"heuristic"`
	Neural    engine.NeuralConfig    `mapstructure:"neural"`
	Trainer   ml.TrainerConfig       `mapstructure:"trainer"`

	// OnlineUpdates calls OnlineUpdateStep after every ingested rating.
	OnlineUpdates bool `mapstructure:"online_updates"`
}

type LoaderConfig struct {
	Type  string `mapstructure:"type"` // movielens, postgres, neo4j, none
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit"`
}

type EvaluationConfig struct {
	Partitions      []evaluation.Partition `mapstructure:"partitions"`
	Options         evaluation.Options     `mapstructure:"options"`
	TrainPartitions []string               `mapstructure:"train_partitions"`
	ValidPartitions []string               `mapstructure:"valid_partitions"`
	TestPartitions  []string               `mapstructure:"test_partitions"`
	Ranks           RankRange              `mapstructure:"ranks"`
}

// RankRange enumerates SVD ranks From, From+Step, ... below To.
type RankRange struct {
	From int `mapstructure:"from"`
	To   int `mapstructure:"to"`
	Step int `mapstructure:"step"`
}

func (r RankRange) Values() []int {
	if r.Step <= 0 {
		return nil
	}
	var out []int
	for k := r.From; k < r.To; k += r.Step {
		out = append(out, k)
	}
	return out
}

type CachingConfig struct {
	RecommendationsTTL time.Duration `mapstructure:"recommendations_ttl"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// ValidationConfig points at a directory of JSON schemas that replace the
// built-in rating-event and rate-request schemas. Empty keeps the built-ins.
type ValidationConfig struct {
	SchemaDir string `mapstructure:"schema_dir"`
}

type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per caller on the write routes. It needs
// Redis; zero Requests disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings that would only fail later at first use.
func (c *Config) Validate() error {
	switch c.Engine.Algorithm {
	case "svd", "user_cf", "average", "heuristic", "neural":
	default:
		return fmt.Errorf("%w: unknown algorithm %q", engine.ErrInvalidConfiguration, c.Engine.Algorithm)
	}
	switch c.Loader.Type {
	case "movielens", "postgres", "neo4j", "none":
	default:
		return fmt.Errorf("%w: unknown loader type %q", engine.ErrInvalidConfiguration, c.Loader.Type)
	}
	if c.Loader.Type == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("%w: postgres loader requires database.url", engine.ErrInvalidConfiguration)
	}
	if c.Loader.Type == "neo4j" && c.Neo4j.URL == "" {
		return fmt.Errorf("%w: neo4j loader requires neo4j.url", engine.ErrInvalidConfiguration)
	}
	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")

	// Neo4j defaults
	viper.SetDefault("neo4j.url", "")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "")
	viper.SetDefault("neo4j.database", "neo4j")

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.group_id", "recengine")
	viper.SetDefault("kafka.topics.rating_events", "rating-events")
	viper.SetDefault("kafka.topics.dead_letter", "rating-events-dlq")

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", "24h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Engine defaults
	svd := engine.DefaultSVDConfig()
	userCF := engine.DefaultUserCFConfig()
	trainer := ml.DefaultTrainerConfig()
	viper.SetDefault("engine.algorithm", "svd")
	viper.SetDefault("engine.online_updates", true)
	viper.SetDefault("engine.svd.components", svd.Components)
	viper.SetDefault("engine.svd.include_avg_rating", svd.IncludeAvgRating)
	viper.SetDefault("engine.svd.max_cells", svd.MaxCells)
	viper.SetDefault("engine.user_cf.neighbor_size", userCF.NeighborSize)
	viper.SetDefault("engine.user_cf.correction_mode", userCF.CorrectionMode)
	viper.SetDefault("engine.user_cf.prediction_mode", userCF.PredictionMode)
	viper.SetDefault("engine.user_cf.neighbour_sample_max_size", userCF.NeighbourSampleMaxSize)
	viper.SetDefault("engine.user_cf.restore_bias", userCF.RestoreBias)
	viper.SetDefault("engine.heuristic.max_history", engine.DefaultHeuristicConfig().MaxHistory)
	viper.SetDefault("engine.neural.timeout", engine.DefaultNeuralConfig().Timeout)
	viper.SetDefault("engine.trainer.command", trainer.Command)
	viper.SetDefault("engine.trainer.args", trainer.Args)
	viper.SetDefault("engine.trainer.model_path", trainer.ModelPath)
	viper.SetDefault("engine.trainer.batch_size", trainer.BatchSize)
	viper.SetDefault("engine.trainer.user_embedding_size", trainer.UserEmbeddingSize)
	viper.SetDefault("engine.trainer.item_embedding_size", trainer.ItemEmbeddingSize)
	viper.SetDefault("engine.trainer.dense_sizes", trainer.DenseSizes)
	viper.SetDefault("engine.trainer.epochs", trainer.Epochs)
	viper.SetDefault("engine.trainer.learning_rate", trainer.LearningRate)
	viper.SetDefault("engine.trainer.decay", trainer.Decay)
	viper.SetDefault("engine.trainer.validation_size", trainer.ValidationSize)

	// Loader defaults
	viper.SetDefault("loader.type", "movielens")
	viper.SetDefault("loader.path", "data/movielens")
	viper.SetDefault("loader.limit", 10000000)

	// Evaluation defaults
	opts := evaluation.DefaultOptions()
	viper.SetDefault("evaluation.partitions", []map[string]interface{}{
		{"name": "train", "ratio": 0.7},
		{"name": "valid", "ratio": 0.15},
		{"name": "test", "ratio": 0.15},
	})
	viper.SetDefault("evaluation.options.top_n", opts.TopN)
	viper.SetDefault("evaluation.options.online_updates", opts.OnlineUpdates)
	viper.SetDefault("evaluation.options.progress_every", opts.ProgressEvery)
	viper.SetDefault("evaluation.train_partitions", []string{"train"})
	viper.SetDefault("evaluation.valid_partitions", []string{"valid"})
	viper.SetDefault("evaluation.test_partitions", []string{"test"})
	viper.SetDefault("evaluation.ranks.from", 10)
	viper.SetDefault("evaluation.ranks.to", 190)
	viper.SetDefault("evaluation.ranks.step", 15)

	// Caching defaults
	viper.SetDefault("caching.recommendations_ttl", "15m")

	// Validation defaults
	viper.SetDefault("validation.schema_dir", "")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
	viper.SetDefault("security.rate_limit.requests", 600)
	viper.SetDefault("security.rate_limit.window", "1m")
}
