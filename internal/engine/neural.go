package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Sample is one training pair for a delegated trainer.
type Sample struct {
	UserIndex int     `json:"user_index"`
	ItemIndex int     `json:"item_index"`
	Rating    float64 `json:"rating"`
}

// Pair is a (user, item) index pair to score.
type Pair struct {
	UserIndex int `json:"user_index"`
	ItemIndex int `json:"item_index"`
}

// Trainer is an external component that learns a rating model from dense
// (user_index, item_index) -> rating samples. Its training loop is opaque to
// the engine.
type Trainer interface {
	Fit(ctx context.Context, users, items int, samples []Sample) error
	Predict(ctx context.Context, pairs []Pair) ([]float64, error)
}

type NeuralConfig struct {
	// Timeout bounds each Fit and Predict call on the trainer.
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultNeuralConfig() NeuralConfig {
	return NeuralConfig{Timeout: 30 * time.Minute}
}

// NeuralEngine assigns dense indices to users and items and delegates
// learning and scoring to a Trainer.
type NeuralEngine struct {
	baseEngine
	config  NeuralConfig
	trainer Trainer

	users *IndexMap
	items *IndexMap
	built bool
}

func NewNeuralEngine(cfg NeuralConfig, trainer Trainer, logger *logrus.Logger) (*NeuralEngine, error) {
	if trainer == nil {
		return nil, fmt.Errorf("%w: neural engine requires a trainer", ErrInvalidConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNeuralConfig().Timeout
	}
	return &NeuralEngine{
		baseEngine: newBaseEngine("neural", logger),
		config:     cfg,
		trainer:    trainer,
		users:      NewIndexMap(),
		items:      NewIndexMap(),
	}, nil
}

func (e *NeuralEngine) Build() error {
	users := NewIndexMap()
	items := NewIndexMap()
	for _, userID := range e.store.Users() {
		users.Assign(userID)
	}
	for _, itemID := range e.store.Items() {
		items.Assign(itemID)
	}

	samples := make([]Sample, 0, e.store.NumEvents())
	for _, userID := range users.IDs() {
		u, _ := users.Lookup(userID)
		for _, r := range e.store.UserHistory(userID) {
			i, _ := items.Lookup(r.ItemID)
			samples = append(samples, Sample{UserIndex: u, ItemIndex: i, Rating: r.Rating})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()

	start := time.Now()
	if err := e.trainer.Fit(ctx, users.Len(), items.Len(), samples); err != nil {
		return fmt.Errorf("failed to fit neural model: %w", err)
	}

	e.users = users
	e.items = items
	e.built = true

	e.logger.WithFields(logrus.Fields{
		"users":   users.Len(),
		"items":   items.Len(),
		"samples": len(samples),
		"elapsed": time.Since(start),
	}).Info("Neural model trained")

	return nil
}

func (e *NeuralEngine) PredictRating(userID, itemID string) (float64, error) {
	u, ok := e.users.Lookup(userID)
	if !ok {
		return 0, fmt.Errorf("%w: user %q has no embedding", ErrUnresolvableQuery, userID)
	}
	i, ok := e.items.Lookup(itemID)
	if !ok {
		mean, _ := e.store.UserMean(userID)
		return mean, nil
	}

	predictions, err := e.predict([]Pair{{UserIndex: u, ItemIndex: i}})
	if err != nil {
		return 0, err
	}
	return predictions[0], nil
}

func (e *NeuralEngine) PredictInterests(userID string, n int) ([]string, error) {
	u, ok := e.users.Lookup(userID)
	if !ok {
		return nil, fmt.Errorf("%w: user %q has no embedding", ErrUnresolvableQuery, userID)
	}
	if n <= 0 {
		return []string{}, nil
	}

	rated := e.store.RatedItems(userID)
	pairs := make([]Pair, 0, e.items.Len())
	ids := make([]string, 0, e.items.Len())
	for i, itemID := range e.items.IDs() {
		if _, seen := rated[itemID]; seen {
			continue
		}
		pairs = append(pairs, Pair{UserIndex: u, ItemIndex: i})
		ids = append(ids, itemID)
	}
	if len(pairs) == 0 {
		return []string{}, nil
	}

	predictions, err := e.predict(pairs)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredItem, len(ids))
	for i, itemID := range ids {
		scored[i] = scoredItem{id: itemID, score: predictions[i]}
	}
	return topN(scored, rated, n), nil
}

func (e *NeuralEngine) predict(pairs []Pair) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()

	predictions, err := e.trainer.Predict(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("neural prediction failed: %w", err)
	}
	if len(predictions) != len(pairs) {
		return nil, fmt.Errorf("neural prediction returned %d values for %d pairs", len(predictions), len(pairs))
	}
	return predictions, nil
}
