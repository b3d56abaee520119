package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/loader"
	"github.com/temcen/recengine/internal/ml"
)

// NewEngine constructs the configured algorithm. Invalid parameters fail
// here rather than at first query.
func NewEngine(cfg config.EngineConfig, logger *logrus.Logger) (engine.Engine, error) {
	switch cfg.Algorithm {
	case "svd":
		e, err := engine.NewSVDEngine(cfg.SVD, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "user_cf":
		e, err := engine.NewUserCFEngine(cfg.UserCF, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "average":
		return engine.NewAverageEngine(logger), nil
	case "heuristic":
		e, err := engine.NewHeuristicEngine(cfg.Heuristic, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "neural":
		trainer, err := ml.NewProcessTrainer(cfg.Trainer, logger)
		if err != nil {
			return nil, err
		}
		e, err := engine.NewNeuralEngine(cfg.Neural, trainer, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: unknown algorithm %q", engine.ErrInvalidConfiguration, cfg.Algorithm)
}

// NewLoader opens the configured rating source. The "none" type returns a
// nil loader: the service then starts empty and learns from the API and the
// stream only.
func NewLoader(cfg *config.Config, db *database.Database, logger *logrus.Logger) (loader.Loader, error) {
	switch cfg.Loader.Type {
	case "movielens":
		l, err := loader.NewMovieLensLoader(cfg.Loader.Path, cfg.Loader.Limit, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "postgres":
		if db == nil || db.PG == nil {
			return nil, fmt.Errorf("%w: postgres loader without a database connection", engine.ErrInvalidConfiguration)
		}
		return loader.NewPostgresLoader(db.PG, logger), nil
	case "neo4j":
		if db == nil || db.Neo4j == nil {
			return nil, fmt.Errorf("%w: neo4j loader without a Neo4j connection", engine.ErrInvalidConfiguration)
		}
		return loader.NewNeo4jLoader(db.Neo4j, cfg.Neo4j.Database, logger), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown loader type %q", engine.ErrInvalidConfiguration, cfg.Loader.Type)
}
