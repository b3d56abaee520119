package services

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/validation"
)

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Engine    EngineStatus      `json:"engine"`
	Schemas   []string          `json:"schemas,omitempty"`
}

type EngineStatus struct {
	Algorithm string `json:"algorithm"`
	Built     bool   `json:"built"`
	Users     int    `json:"users"`
	Items     int    `json:"items"`
	Events    int    `json:"events"`
}

// HealthService reports the engine state and the reachability of the
// configured stores. The engine is the only critical dependency: an
// unbuilt engine makes the service unhealthy, a failing store degrades it.
type HealthService struct {
	logger      *logrus.Logger
	db          *database.Database
	recommender *RecommenderService
	validator   *validation.SchemaValidator

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

// NewHealthService builds the health reporter. validator may be nil.
func NewHealthService(logger *logrus.Logger, db *database.Database, recommender *RecommenderService, validator *validation.SchemaValidator, reg prometheus.Registerer) *HealthService {
	factory := promauto.With(reg)
	return &HealthService{
		logger:      logger,
		db:          db,
		recommender: recommender,
		validator:   validator,
		healthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recengine_health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
		lastHealthCheck: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recengine_health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),
	}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	users, items, events := s.recommender.Stats()
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  map[string]string{},
		Engine: EngineStatus{
			Algorithm: s.recommender.Algorithm(),
			Built:     s.recommender.Built(),
			Users:     users,
			Items:     items,
			Events:    events,
		},
	}

	if s.db != nil {
		status.Services = s.db.Health(ctx)
	}
	if s.validator != nil {
		status.Schemas = s.validator.GetAvailableSchemas()
	}

	degraded := false
	for name, state := range status.Services {
		switch {
		case state == "disabled":
			continue
		case strings.HasPrefix(state, "unhealthy"):
			degraded = true
			s.logger.WithField("service", name).Warn(state)
			s.UpdateHealthMetrics(name, false)
		default:
			s.UpdateHealthMetrics(name, true)
		}
	}
	s.UpdateHealthMetrics("engine", status.Engine.Built)

	switch {
	case !status.Engine.Built:
		status.Status = "unhealthy"
	case degraded:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	return status
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
