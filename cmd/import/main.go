// Command import copies a MovieLens directory into PostgreSQL so the server
// and the evaluator can run with loader.type=postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/recengine/internal/app"
	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/loader"
)

func main() {
	flags := pflag.NewFlagSet("import", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.String("data", "data/movielens", "MovieLens directory")
	flags.Int("limit", 0, "maximum number of ratings imported, 0 for all")
	flags.String("database-url", "", "PostgreSQL URL, overrides database.url")
	batch := flags.Int("batch", 10000, "ratings committed per transaction")
	_ = flags.Parse(os.Args[1:])

	bindings := map[string]string{
		"loader.path":  "data",
		"loader.limit": "limit",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag %s: %v\n", name, err)
			os.Exit(2)
		}
	}
	if flags.Changed("database-url") {
		url, _ := flags.GetString("database-url")
		viper.Set("database.url", url)
	}
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.SetupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *batch, logger); err != nil {
		logger.WithError(err).Fatal("Import failed")
	}
}

func run(ctx context.Context, cfg *config.Config, batch int, logger *logrus.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	// Only Postgres is needed here.
	dbCfg := *cfg
	dbCfg.Neo4j.URL = ""
	dbCfg.Redis.URL = ""
	db, err := database.New(&dbCfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := loader.NewMovieLensLoader(cfg.Loader.Path, cfg.Loader.Limit, logger)
	if err != nil {
		return err
	}

	written, err := loader.NewPostgresLoader(db.PG, logger).Import(ctx, src, batch)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"items":   len(src.Items()),
		"ratings": written,
		"source":  cfg.Loader.Path,
	}).Info("MovieLens data imported")
	return nil
}
