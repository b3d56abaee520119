package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// HeuristicConfig configures the item-influence engine.
type HeuristicConfig struct {
	// MaxHistory skips users with longer histories; they add quadratic cost
	// and little signal.
	MaxHistory int `mapstructure:"max_history"`
}

func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{MaxHistory: 50}
}

// HeuristicEngine scores items by how far above their own average users
// rated them alongside items the target user already rated.
//
// influence[a][b] is the average, over users who rated both, of
// (rating_b − user mean), normalised by how often a co-occurred with anything.
type HeuristicEngine struct {
	baseEngine
	config HeuristicConfig

	influence  map[string]map[string]float64
	globalMean float64
	built      bool
}

func NewHeuristicEngine(cfg HeuristicConfig, logger *logrus.Logger) (*HeuristicEngine, error) {
	if cfg.MaxHistory <= 0 {
		return nil, fmt.Errorf("%w: max history must be positive, got %d", ErrInvalidConfiguration, cfg.MaxHistory)
	}
	return &HeuristicEngine{
		baseEngine: newBaseEngine("heuristic", logger),
		config:     cfg,
		influence:  make(map[string]map[string]float64),
	}, nil
}

func (e *HeuristicEngine) Build() error {
	influence := make(map[string]map[string]float64)
	interactions := make(map[string]int)
	total, count := 0.0, 0

	for _, userID := range e.store.Users() {
		history := e.store.UserHistory(userID)
		for _, r := range history {
			total += r.Rating
			count++
		}
		if len(history) == 0 || len(history) > e.config.MaxHistory {
			continue
		}
		mean, _ := meanOf(history)
		for i, a := range history {
			for j, b := range history {
				if i == j {
					continue
				}
				if influence[a.ItemID] == nil {
					influence[a.ItemID] = make(map[string]float64)
				}
				influence[a.ItemID][b.ItemID] += b.Rating - mean
				interactions[a.ItemID]++
			}
		}
	}

	for itemID, row := range influence {
		for other := range row {
			row[other] /= float64(interactions[itemID])
		}
	}

	e.influence = influence
	e.built = count > 0
	if e.built {
		e.globalMean = total / float64(count)
	}

	e.logger.WithField("items", len(influence)).Info("Heuristic model built")
	return nil
}

func (e *HeuristicEngine) PredictRating(userID, itemID string) (float64, error) {
	mean, err := e.userMeanOrGlobal(userID, e.globalMean, e.built)
	if err != nil {
		return 0, fmt.Errorf("%w: user %q", err, userID)
	}
	return mean, nil
}

func (e *HeuristicEngine) PredictInterests(userID string, n int) ([]string, error) {
	totals := make(map[string]float64)
	for _, r := range e.store.UserHistory(userID) {
		for itemID, v := range e.influence[r.ItemID] {
			totals[itemID] += v
		}
	}

	scored := make([]scoredItem, 0, len(totals))
	for itemID, total := range totals {
		scored = append(scored, scoredItem{id: itemID, score: total})
	}
	return topN(scored, e.store.RatedItems(userID), n), nil
}
