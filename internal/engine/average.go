package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// runningMean is a {count, mean} accumulator updated with the incremental
// mean formula mean' = mean + (v - mean) / count'.
type runningMean struct {
	count int
	mean  float64
}

func (m runningMean) add(v float64) runningMean {
	count := m.count + 1
	return runningMean{
		count: count,
		mean:  m.mean + (v-m.mean)/float64(count),
	}
}

// AverageEngine predicts the item's running mean rating and recommends the
// best-rated items. Its statistics are live, so Build is a no-op.
type AverageEngine struct {
	baseEngine
	items  map[string]runningMean
	global runningMean
}

func NewAverageEngine(logger *logrus.Logger) *AverageEngine {
	return &AverageEngine{
		baseEngine: newBaseEngine("average", logger),
		items:      make(map[string]runningMean),
	}
}

func (e *AverageEngine) AddData(userID, itemID string, rating float64, timestamp int64) {
	e.items[itemID] = e.items[itemID].add(rating)
	e.global = e.global.add(rating)
	e.baseEngine.AddData(userID, itemID, rating, timestamp)
}

func (e *AverageEngine) Build() error {
	e.logger.WithFields(logrus.Fields{
		"items":       len(e.items),
		"ratings":     e.global.count,
		"global_mean": e.global.mean,
	}).Debug("Average model ready")
	return nil
}

func (e *AverageEngine) PredictRating(userID, itemID string) (float64, error) {
	if stat, ok := e.items[itemID]; ok {
		return stat.mean, nil
	}
	if e.global.count > 0 {
		return e.global.mean, nil
	}
	return 0, fmt.Errorf("%w: no ratings recorded", ErrUnresolvableQuery)
}

func (e *AverageEngine) PredictInterests(userID string, n int) ([]string, error) {
	scored := make([]scoredItem, 0, len(e.items))
	for _, itemID := range e.store.Items() {
		scored = append(scored, scoredItem{id: itemID, score: e.items[itemID].mean})
	}
	return topN(scored, e.store.RatedItems(userID), n), nil
}

// GlobalMean returns the running mean over every rating.
func (e *AverageEngine) GlobalMean() (float64, bool) {
	return e.global.mean, e.global.count > 0
}
