// Package engine holds the recommender engines and the shared rating store
// and sparse matrix infrastructure they are built on.
//
// Engines are not safe for concurrent mutation. Callers that serve
// predictions while ingesting ratings must provide reader/writer exclusion
// around Build, AddData and OnlineUpdateStep (see services.RecommenderService).
package engine

import (
	"errors"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/pkg/models"
)

var (
	// ErrUnresolvableQuery is returned when no prediction or fallback value can
	// be computed at all, e.g. a user with no history and no global statistic.
	ErrUnresolvableQuery = errors.New("unresolvable query")

	// ErrInvalidConfiguration is returned by constructors for unknown modes or
	// out-of-range parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrModelTooLarge is returned by Build when the data exceeds a configured
	// size limit.
	ErrModelTooLarge = errors.New("model too large")
)

// Engine is the capability set shared by every recommender algorithm.
type Engine interface {
	// Name returns the algorithm identifier.
	Name() string

	// AddData records one rating event. It is safe to call before or after
	// Build and does not rerun the offline computation.
	AddData(userID, itemID string, rating float64, timestamp int64)

	// Build performs the offline computation from every event added so far.
	// It is deterministic for a given event set and insertion order.
	Build() error

	// OnlineUpdateStep refreshes model state cheaply after a rating for
	// (userID, itemID) has been added. It may be a no-op.
	OnlineUpdateStep(userID, itemID string) error

	// PredictRating returns a point estimate, falling back to per-entity or
	// global means for unseen users and items.
	PredictRating(userID, itemID string) (float64, error)

	// PredictInterests returns at most n items the user has not rated,
	// ordered by descending score then ascending item id.
	PredictInterests(userID string, n int) ([]string, error)

	// History returns a copy of the user's events in insertion order.
	History(userID string) []models.RatingEvent
}

// baseEngine carries the rating store and the default no-op behaviour.
type baseEngine struct {
	name   string
	store  *RatingStore
	logger *logrus.Logger
}

func newBaseEngine(name string, logger *logrus.Logger) baseEngine {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return baseEngine{
		name:   name,
		store:  NewRatingStore(),
		logger: logger,
	}
}

func (b *baseEngine) Name() string { return b.name }

func (b *baseEngine) AddData(userID, itemID string, rating float64, timestamp int64) {
	b.store.Add(userID, itemID, rating, timestamp)
}

func (b *baseEngine) OnlineUpdateStep(userID, itemID string) error { return nil }

func (b *baseEngine) History(userID string) []models.RatingEvent {
	return b.store.Snapshot(userID)
}

// Store exposes the underlying rating store for read access.
func (b *baseEngine) Store() *RatingStore { return b.store }

// userMeanOrGlobal resolves the rating fallback chain shared by several
// engines: the user's own mean, then the given global statistic.
func (b *baseEngine) userMeanOrGlobal(userID string, global float64, haveGlobal bool) (float64, error) {
	if mean, ok := b.store.UserMean(userID); ok {
		return mean, nil
	}
	if haveGlobal {
		return global, nil
	}
	return 0, ErrUnresolvableQuery
}

type scoredItem struct {
	id    string
	score float64
}

// topN orders items by (score desc, id asc), skips excluded ids and returns
// at most n ids.
func topN(items []scoredItem, exclude map[string]struct{}, n int) []string {
	if n <= 0 {
		return []string{}
	}

	candidates := make([]scoredItem, 0, len(items))
	for _, it := range items {
		if _, seen := exclude[it.id]; seen {
			continue
		}
		candidates = append(candidates, it)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}
