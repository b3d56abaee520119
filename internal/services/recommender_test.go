package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/loader"
	"github.com/temcen/recengine/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeLoader struct {
	events []models.RatingEvent
	items  []models.Item
	err    error
}

func (l *fakeLoader) Records(_ context.Context, fn func(models.RatingEvent) error) error {
	for _, e := range l.events {
		if err := fn(e); err != nil {
			return err
		}
	}
	return l.err
}

func (l *fakeLoader) ItemDescription(itemID string) string {
	for _, item := range l.items {
		if item.ItemID == itemID {
			return item.String()
		}
	}
	return loader.UnknownItem
}

func (l *fakeLoader) ItemGenres(itemID string) []string { return []string{} }

func (l *fakeLoader) Items() []models.Item { return l.items }

type fakeSink struct {
	records []models.RatingEvent
	err     error
}

func (s *fakeSink) PutRecord(_ context.Context, e models.RatingEvent) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, e)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]string
	invalidated []string
	resets      int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]string{}}
}

func (c *fakeCache) Get(_ context.Context, userID string, n int) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.entries[userID]
	if !ok || len(items) > n {
		return nil, false
	}
	return items, true
}

func (c *fakeCache) Set(_ context.Context, userID string, _ int, items []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = items
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
}

func (c *fakeCache) Reset(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]string{}
	c.resets++
}

// countingEngine records OnlineUpdateStep calls.
type countingEngine struct {
	*engine.AverageEngine
	updates int
}

func (e *countingEngine) OnlineUpdateStep(userID, itemID string) error {
	e.updates++
	return nil
}

func catalogLoader() *fakeLoader {
	return &fakeLoader{
		events: []models.RatingEvent{
			{UserID: "u1", ItemID: "i1", Rating: 5, Timestamp: 1},
			{UserID: "u2", ItemID: "i1", Rating: 4, Timestamp: 2},
			{UserID: "u2", ItemID: "i2", Rating: 2, Timestamp: 3},
			{UserID: "u3", ItemID: "i3", Rating: 3, Timestamp: 4},
		},
		items: []models.Item{
			{ItemID: "i1", Name: "Toy Story (1995)", Genres: []string{"Animation"}},
			{ItemID: "i2", Name: "Heat (1995)", Genres: []string{"Action"}},
			{ItemID: "i3", Name: "Élan Vital", Genres: []string{"Drama"}},
		},
	}
}

func newLoadedService(t *testing.T, opts ...RecommenderOption) *RecommenderService {
	t.Helper()
	opts = append([]RecommenderOption{WithLoader(catalogLoader())}, opts...)
	svc := NewRecommenderService(engine.NewAverageEngine(testLogger()), testLogger(), opts...)

	count, err := svc.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, count)

	_, err = svc.Rebuild(context.Background())
	require.NoError(t, err)
	return svc
}

func TestRecommenderService_LoadAndRecommend(t *testing.T) {
	metrics := NewMetrics(nil)
	svc := newLoadedService(t, WithMetrics(metrics))

	assert.True(t, svc.Built())
	assert.Equal(t, "average", svc.Algorithm())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ratingsIngested.WithLabelValues(sourceLoader)))

	users, items, events := svc.Stats()
	assert.Equal(t, []int{3, 3, 4}, []int{users, items, events})

	// u3 rated only i3; means are i1 4.5, i3 3, i2 2.
	resp, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.Equal(t, "u3", resp.UserID)
	assert.False(t, resp.CacheHit)
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, models.Recommendation{
		ItemID:      "i1",
		Description: "Movie #i1: Toy Story (1995) (genres: Animation)",
		Position:    1,
	}, resp.Recommendations[0])
	assert.Equal(t, "i2", resp.Recommendations[1].ItemID)
	assert.Equal(t, 2, resp.Recommendations[1].Position)
}

func TestRecommenderService_RecommendZeroCount(t *testing.T) {
	svc := newLoadedService(t)

	resp, err := svc.Recommend(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Recommendations)
	assert.NotNil(t, resp.Recommendations)
}

func TestRecommenderService_LoadError(t *testing.T) {
	src := catalogLoader()
	src.err = errors.New("disk gone")
	svc := NewRecommenderService(engine.NewAverageEngine(nil), testLogger(), WithLoader(src))

	count, err := svc.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, count)
}

func TestRecommenderService_Cache(t *testing.T) {
	cache := newFakeCache()
	metrics := NewMetrics(nil)
	svc := newLoadedService(t, WithCache(cache), WithMetrics(metrics))
	assert.Equal(t, 1, cache.resets)

	first, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheRequests.WithLabelValues("miss")))

	require.NoError(t, svc.Rate(context.Background(), models.RatingEvent{UserID: "u3", ItemID: "i2", Rating: 1, Timestamp: 9}))
	assert.Equal(t, []string{"u3"}, cache.invalidated)

	third, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	require.Len(t, third.Recommendations, 1)
	assert.Equal(t, "i1", third.Recommendations[0].ItemID)
}

// ratingDuringPredictEngine starts a rating for the same user while the
// first recommendation is being computed.
type ratingDuringPredictEngine struct {
	*engine.AverageEngine
	once    sync.Once
	onFirst func()
}

func (e *ratingDuringPredictEngine) PredictInterests(userID string, n int) ([]string, error) {
	e.once.Do(e.onFirst)
	return e.AverageEngine.PredictInterests(userID, n)
}

// slowSetCache holds Set back until the concurrent rating has finished or a
// short deadline passes.
type slowSetCache struct {
	*fakeCache
	rated chan struct{}
}

func (c *slowSetCache) Set(ctx context.Context, userID string, n int, items []string) {
	select {
	case <-c.rated:
	case <-time.After(50 * time.Millisecond):
	}
	c.fakeCache.Set(ctx, userID, n, items)
}

func TestRecommenderService_RateDuringRecommendDropsStaleList(t *testing.T) {
	cache := &slowSetCache{fakeCache: newFakeCache(), rated: make(chan struct{})}
	eng := &ratingDuringPredictEngine{AverageEngine: engine.NewAverageEngine(testLogger())}
	svc := NewRecommenderService(eng, testLogger(), WithLoader(catalogLoader()), WithCache(cache))

	_, err := svc.Load(context.Background())
	require.NoError(t, err)
	_, err = svc.Rebuild(context.Background())
	require.NoError(t, err)

	var rateErr error
	eng.onFirst = func() {
		go func() {
			defer close(cache.rated)
			rateErr = svc.Rate(context.Background(), models.RatingEvent{UserID: "u3", ItemID: "i1", Rating: 2, Timestamp: 9})
		}()
	}

	first, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	<-cache.rated
	require.NoError(t, rateErr)

	_, cached := cache.Get(context.Background(), "u3", 5)
	assert.False(t, cached, "list computed before the rating must not survive its invalidation")

	second, err := svc.Recommend(context.Background(), "u3", 5)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	for _, rec := range second.Recommendations {
		assert.NotEqual(t, "i1", rec.ItemID)
	}
}

func TestRecommenderService_RatePersistsAndUpdates(t *testing.T) {
	sink := &fakeSink{}
	eng := &countingEngine{AverageEngine: engine.NewAverageEngine(nil)}
	metrics := NewMetrics(nil)
	svc := NewRecommenderService(eng, testLogger(), WithSink(sink), WithOnlineUpdates(true), WithMetrics(metrics))

	event := models.RatingEvent{UserID: "u1", ItemID: "i1", Rating: 4, Timestamp: 10}

	// Before the first build there is no model to update.
	require.NoError(t, svc.Rate(context.Background(), event))
	assert.Equal(t, 0, eng.updates)

	_, err := svc.Rebuild(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.HandleStreamEvent(context.Background(), models.RatingEvent{UserID: "u2", ItemID: "i1", Rating: 2}))
	assert.Equal(t, 1, eng.updates)

	require.Len(t, sink.records, 2)
	assert.Equal(t, event, sink.records[0])
	assert.NotZero(t, sink.records[1].Timestamp, "missing timestamps are filled in")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ratingsIngested.WithLabelValues(sourceAPI)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ratingsIngested.WithLabelValues(sourceStream)))

	history := svc.History(context.Background(), "u1")
	require.Len(t, history.History, 1)
	assert.Equal(t, loader.UnknownItem, history.History[0].Description)
}

func TestRecommenderService_RateSinkFailureLeavesEngineUntouched(t *testing.T) {
	sink := &fakeSink{err: errors.New("database down")}
	svc := NewRecommenderService(engine.NewAverageEngine(nil), testLogger(), WithSink(sink))

	err := svc.Rate(context.Background(), models.RatingEvent{UserID: "u1", ItemID: "i1", Rating: 4, Timestamp: 1})
	require.Error(t, err)
	assert.Empty(t, svc.History(context.Background(), "u1").History)
}

func TestRecommenderService_RateRejectsInvalidEvents(t *testing.T) {
	svc := NewRecommenderService(engine.NewAverageEngine(nil), testLogger())

	tests := []struct {
		name  string
		event models.RatingEvent
	}{
		{"empty user", models.RatingEvent{ItemID: "i1", Rating: 3}},
		{"blank item", models.RatingEvent{UserID: "u1", ItemID: "  ", Rating: 3}},
		{"negative timestamp", models.RatingEvent{UserID: "u1", ItemID: "i1", Rating: 3, Timestamp: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Rate(context.Background(), tt.event)
			assert.ErrorIs(t, err, ErrInvalidRating)
		})
	}
}

func TestRecommenderService_PredictRating(t *testing.T) {
	metrics := NewMetrics(nil)
	empty := NewRecommenderService(engine.NewAverageEngine(nil), testLogger(), WithMetrics(metrics))

	_, err := empty.PredictRating(context.Background(), "u1", "i1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnresolvableQuery)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.unresolvedQueries))

	svc := newLoadedService(t)
	resp, err := svc.PredictRating(context.Background(), "u3", "i1")
	require.NoError(t, err)
	assert.Equal(t, &models.PredictionResponse{UserID: "u3", ItemID: "i1", Rating: 4.5, Algorithm: "average"}, resp)
}

func TestRecommenderService_History(t *testing.T) {
	svc := newLoadedService(t)

	history := svc.History(context.Background(), "u2")
	assert.Equal(t, "u2", history.UserID)
	assert.Equal(t, []models.HistoryEntry{
		{ItemID: "i1", Description: "Movie #i1: Toy Story (1995) (genres: Animation)", Rating: 4, Timestamp: 2},
		{ItemID: "i2", Description: "Movie #i2: Heat (1995) (genres: Action)", Rating: 2, Timestamp: 3},
	}, history.History)

	assert.Empty(t, svc.History(context.Background(), "nobody").History)
}

func TestRecommenderService_FindItems(t *testing.T) {
	svc := newLoadedService(t)

	tests := []struct {
		query string
		limit int
		want  []string
	}{
		{"toy", 0, []string{"i1"}},
		{"(1995)", 0, []string{"i2", "i1"}},
		{"(1995)", 1, []string{"i2"}},
		{"ÉLAN", 0, []string{"i3"}},
		{"élan", 0, []string{"i3"}},
		{"   ", 0, []string{}},
		{"matrix", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			found := svc.FindItems(tt.query, tt.limit)
			ids := make([]string, len(found))
			for i, item := range found {
				ids[i] = item.ItemID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	noCatalog := NewRecommenderService(engine.NewAverageEngine(nil), testLogger())
	assert.Empty(t, noCatalog.FindItems("toy", 0))
}

func TestRecommenderService_ConcurrentAccess(t *testing.T) {
	svc := newLoadedService(t, WithCache(newFakeCache()), WithOnlineUpdates(true))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := svc.Recommend(context.Background(), "u1", 3)
				assert.NoError(t, err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := svc.Rate(context.Background(), models.RatingEvent{UserID: "u9", ItemID: "i1", Rating: float64(j % 5), Timestamp: int64(j + 1)})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	_, _, events := svc.Stats()
	assert.Equal(t, 4+8*50, events)
}
