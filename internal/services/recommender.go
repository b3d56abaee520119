package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/loader"
	"github.com/temcen/recengine/pkg/models"
)

// ErrInvalidRating is returned by Rate for events that cannot be ingested.
var ErrInvalidRating = errors.New("invalid rating")

const (
	sourceLoader = "loader"
	sourceAPI    = "api"
	sourceStream = "stream"
)

// RatingSink persists ingested ratings. The Postgres and Neo4j loaders
// implement it.
type RatingSink interface {
	PutRecord(ctx context.Context, e models.RatingEvent) error
}

// storeOwner is implemented by every engine built on the shared rating store.
type storeOwner interface {
	Store() *engine.RatingStore
}

// RecommenderService owns one engine and serializes access to it: queries
// share a read lock, while ingestion and builds take the write lock.
type RecommenderService struct {
	mu     sync.RWMutex
	engine engine.Engine
	built  bool

	source        loader.Loader
	sink          RatingSink
	cache         RecommendationCache
	metrics       *Metrics
	onlineUpdates bool
	logger        *logrus.Logger
}

type RecommenderOption func(*RecommenderService)

// WithLoader sets the source of historical ratings and item descriptions.
// If the loader can also store ratings it becomes the sink.
func WithLoader(l loader.Loader) RecommenderOption {
	return func(s *RecommenderService) {
		s.source = l
		if sink, ok := l.(RatingSink); ok && s.sink == nil {
			s.sink = sink
		}
	}
}

func WithSink(sink RatingSink) RecommenderOption {
	return func(s *RecommenderService) { s.sink = sink }
}

func WithCache(cache RecommendationCache) RecommenderOption {
	return func(s *RecommenderService) { s.cache = cache }
}

func WithMetrics(m *Metrics) RecommenderOption {
	return func(s *RecommenderService) { s.metrics = m }
}

// WithOnlineUpdates makes Rate call OnlineUpdateStep after AddData.
func WithOnlineUpdates(enabled bool) RecommenderOption {
	return func(s *RecommenderService) { s.onlineUpdates = enabled }
}

func NewRecommenderService(e engine.Engine, logger *logrus.Logger, opts ...RecommenderOption) *RecommenderService {
	s := &RecommenderService{
		engine: e,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Algorithm returns the served engine's name.
func (s *RecommenderService) Algorithm() string {
	return s.engine.Name()
}

// Load feeds every event of the configured loader into the engine. It does
// not build.
func (s *RecommenderService) Load(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	err := s.source.Records(ctx, func(e models.RatingEvent) error {
		s.engine.AddData(e.UserID, e.ItemID, e.Rating, e.Timestamp)
		count++
		return nil
	})
	s.metrics.ratingsIngested.WithLabelValues(sourceLoader).Add(float64(count))
	if err != nil {
		return count, fmt.Errorf("failed to load ratings: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"ratings":   count,
		"algorithm": s.engine.Name(),
	}).Info("Historical ratings loaded")
	return count, nil
}

// Rebuild reruns the engine's offline computation over every event ingested
// so far and drops cached recommendations.
func (s *RecommenderService) Rebuild(ctx context.Context) (*models.RebuildResponse, error) {
	s.mu.Lock()
	start := time.Now()
	err := s.engine.Build()
	elapsed := time.Since(start)
	if err == nil {
		s.built = true
	}
	users, items, events := s.sizeLocked()
	if err == nil && s.cache != nil {
		s.cache.Reset(ctx)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).WithField("algorithm", s.engine.Name()).Error("Engine build failed")
		return nil, fmt.Errorf("failed to build %s engine: %w", s.engine.Name(), err)
	}

	s.metrics.buildDuration.Observe(elapsed.Seconds())
	s.metrics.modelSize.WithLabelValues("users").Set(float64(users))
	s.metrics.modelSize.WithLabelValues("items").Set(float64(items))
	s.metrics.modelSize.WithLabelValues("events").Set(float64(events))

	s.logger.WithFields(logrus.Fields{
		"algorithm": s.engine.Name(),
		"users":     users,
		"items":     items,
		"duration":  elapsed,
	}).Info("Engine built")

	return &models.RebuildResponse{
		Algorithm:  s.engine.Name(),
		Users:      users,
		Items:      items,
		Duration:   elapsed,
		FinishedAt: time.Now(),
	}, nil
}

// Built reports whether at least one Rebuild has succeeded.
func (s *RecommenderService) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built
}

func (s *RecommenderService) sizeLocked() (users, items, events int) {
	owner, ok := s.engine.(storeOwner)
	if !ok {
		return 0, 0, 0
	}
	store := owner.Store()
	return store.NumUsers(), store.NumItems(), store.NumEvents()
}

// Stats returns the number of users, items and events the engine knows.
func (s *RecommenderService) Stats() (users, items, events int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeLocked()
}

// Recommend returns up to n unseen items for the user, served from the cache
// when possible.
func (s *RecommenderService) Recommend(ctx context.Context, userID string, n int) (*models.RecommendationResponse, error) {
	defer s.observe("recommend", time.Now())

	resp := &models.RecommendationResponse{
		UserID:      userID,
		Algorithm:   s.engine.Name(),
		GeneratedAt: time.Now(),
	}

	var ids []string
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID, n); ok {
			s.metrics.cacheRequests.WithLabelValues("hit").Inc()
			ids = cached
			resp.CacheHit = true
		} else {
			s.metrics.cacheRequests.WithLabelValues("miss").Inc()
		}
	}

	if !resp.CacheHit {
		predicted, err := s.predictAndCache(ctx, userID, n)
		if err != nil {
			return nil, fmt.Errorf("failed to predict interests: %w", err)
		}
		ids = predicted
	}

	resp.Recommendations = make([]models.Recommendation, len(ids))
	for i, id := range ids {
		resp.Recommendations[i] = models.Recommendation{
			ItemID:      id,
			Description: s.describe(id),
			Position:    i + 1,
		}
	}
	return resp, nil
}

// predictAndCache stores the list before releasing the read lock. Ingestion
// invalidates under the write lock, so a list computed before a rating can
// never be written back after that rating's invalidation.
func (s *RecommenderService) predictAndCache(ctx context.Context, userID string, n int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.engine.PredictInterests(userID, n)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, userID, n, ids)
	}
	return ids, nil
}

// PredictRating estimates the user's rating of an item.
func (s *RecommenderService) PredictRating(ctx context.Context, userID, itemID string) (*models.PredictionResponse, error) {
	defer s.observe("predict", time.Now())

	s.mu.RLock()
	rating, err := s.engine.PredictRating(userID, itemID)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, engine.ErrUnresolvableQuery) {
			s.metrics.unresolvedQueries.Inc()
		}
		return nil, fmt.Errorf("failed to predict rating: %w", err)
	}

	return &models.PredictionResponse{
		UserID:    userID,
		ItemID:    itemID,
		Rating:    rating,
		Algorithm: s.engine.Name(),
	}, nil
}

// History returns the user's ratings with item descriptions, oldest first.
func (s *RecommenderService) History(ctx context.Context, userID string) *models.HistoryResponse {
	s.mu.RLock()
	events := s.engine.History(userID)
	s.mu.RUnlock()

	resp := &models.HistoryResponse{
		UserID:  userID,
		History: make([]models.HistoryEntry, len(events)),
	}
	for i, e := range events {
		resp.History[i] = models.HistoryEntry{
			ItemID:      e.ItemID,
			Description: s.describe(e.ItemID),
			Rating:      e.Rating,
			Timestamp:   e.Timestamp,
		}
	}
	return resp
}

// Rate ingests a rating received through the API.
func (s *RecommenderService) Rate(ctx context.Context, e models.RatingEvent) error {
	return s.ingest(ctx, e, sourceAPI)
}

// HandleStreamEvent ingests a rating read from the rating stream.
func (s *RecommenderService) HandleStreamEvent(ctx context.Context, e models.RatingEvent) error {
	return s.ingest(ctx, e, sourceStream)
}

// ingest persists the event when a sink is configured, then adds it to the
// engine. A persistence failure leaves the engine untouched.
func (s *RecommenderService) ingest(ctx context.Context, e models.RatingEvent, source string) error {
	if err := checkRating(e); err != nil {
		return err
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	if s.sink != nil {
		if err := s.sink.PutRecord(ctx, e); err != nil {
			return fmt.Errorf("failed to persist rating: %w", err)
		}
	}

	s.mu.Lock()
	s.engine.AddData(e.UserID, e.ItemID, e.Rating, e.Timestamp)
	var updateErr error
	if s.onlineUpdates && s.built {
		updateErr = s.engine.OnlineUpdateStep(e.UserID, e.ItemID)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, e.UserID)
	}
	s.mu.Unlock()

	s.metrics.ratingsIngested.WithLabelValues(source).Inc()

	if updateErr != nil {
		// The event is stored; the model catches up on the next rebuild.
		s.logger.WithError(updateErr).WithFields(logrus.Fields{
			"user_id": e.UserID,
			"item_id": e.ItemID,
		}).Warn("Online update failed")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": e.UserID,
		"item_id": e.ItemID,
		"rating":  e.Rating,
		"source":  source,
	}).Debug("Rating ingested")
	return nil
}

func checkRating(e models.RatingEvent) error {
	switch {
	case strings.TrimSpace(e.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidRating)
	case strings.TrimSpace(e.ItemID) == "":
		return fmt.Errorf("%w: item id is required", ErrInvalidRating)
	case math.IsNaN(e.Rating) || math.IsInf(e.Rating, 0):
		return fmt.Errorf("%w: rating must be finite", ErrInvalidRating)
	case e.Timestamp < 0:
		return fmt.Errorf("%w: timestamp must not be negative", ErrInvalidRating)
	}
	return nil
}

// FindItems returns catalog items whose name contains the query, compared
// after Unicode normalization and case folding. limit <= 0 means no limit.
func (s *RecommenderService) FindItems(query string, limit int) []models.Item {
	found := []models.Item{}
	if s.source == nil {
		return found
	}

	needle := s.normalize(query)
	if needle == "" {
		return found
	}

	for _, item := range s.source.Items() {
		if strings.Contains(s.normalize(item.Name), needle) {
			found = append(found, item)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found
}

// normalize builds a Caser per call because Casers are not safe for
// concurrent use.
func (s *RecommenderService) normalize(text string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(text)))
}

func (s *RecommenderService) describe(itemID string) string {
	if s.source == nil {
		return loader.UnknownItem
	}
	return s.source.ItemDescription(itemID)
}

func (s *RecommenderService) observe(operation string, start time.Time) {
	s.metrics.requestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
