package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/handlers"
	"github.com/temcen/recengine/internal/middleware"
	"github.com/temcen/recengine/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancelStream context.CancelFunc
	streamDone   sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config:   cfg,
		logger:   SetupLogger(cfg.Logging),
		registry: prometheus.NewRegistry(),
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	services, err := services.New(cfg, app.logger, db, app.registry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	app.handlers = handlers.New(app.logger, services)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start loads the rating history, builds the engine and starts consuming the
// rating stream when one is configured.
func (a *App) Start(ctx context.Context) error {
	recommender := a.services.Recommender

	count, err := recommender.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	if count > 0 {
		if _, err := recommender.Rebuild(ctx); err != nil {
			return fmt.Errorf("failed to build engine: %w", err)
		}
	} else {
		a.logger.Warn("No ratings loaded; engine stays unbuilt until ratings arrive and a rebuild is requested")
	}

	if a.services.Stream != nil {
		streamCtx, cancel := context.WithCancel(context.Background())
		a.cancelStream = cancel
		a.streamDone.Add(1)
		go func() {
			defer a.streamDone.Done()
			err := a.services.Stream.Consume(streamCtx, recommender.HandleStreamEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Rating stream consumer stopped")
			}
		}()
		a.logger.WithField("topic", a.config.Kafka.Topics.RatingEvents).Info("Rating stream consumer started")
	}

	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	var errs []error
	if a.cancelStream != nil {
		a.cancelStream()
		done := make(chan struct{})
		go func() {
			a.streamDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("Timed out waiting for rating stream consumer")
		}
	}
	if a.services.Stream != nil {
		if err := a.services.Stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SetupLogger builds the process logger from the logging section.
func SetupLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	auth := a.services.Auth
	writeChain := []gin.HandlerFunc{middleware.Auth(auth, a.logger, services.RoleRater, services.RoleAdmin)}
	if a.services.RateLimit != nil {
		writeChain = append(writeChain, middleware.RateLimit(a.services.RateLimit, a.logger))
	}

	api := router.Group("/api/v1")
	{
		users := api.Group("/users/:userId")
		{
			users.GET("/recommendations", a.handlers.Recommendation.Get)
			users.GET("/items/:itemId/prediction", a.handlers.Recommendation.Predict)
			users.GET("/history", a.handlers.Rating.History)

			rate := append(writeChain,
				middleware.SelfOrAdmin("userId"),
				middleware.ValidateRateRequest(a.services.Validator),
				a.handlers.Rating.Rate,
			)
			users.POST("/ratings", rate...)
		}

		api.GET("/items/search", a.handlers.Item.Search)

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(auth, a.logger, services.RoleAdmin))
		{
			admin.POST("/rebuild", a.handlers.Admin.Rebuild)
			admin.POST("/tokens", a.handlers.Token.Issue)
			admin.DELETE("/tokens/:subject", a.handlers.Token.Revoke)
		}
	}

	a.router = router
}
