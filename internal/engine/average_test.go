package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageEngine(t *testing.T) {
	e := NewAverageEngine(testLogger())

	_, err := e.PredictRating("u1", "i1")
	assert.True(t, errors.Is(err, ErrUnresolvableQuery))

	e.AddData("u1", "i1", 5.0, 1)
	e.AddData("u1", "i2", 3.0, 2)
	e.AddData("u2", "i1", 4.0, 1)
	e.AddData("u2", "i2", 2.0, 2)
	require.NoError(t, e.Build())

	t.Run("unseen item predicts global mean", func(t *testing.T) {
		prediction, err := e.PredictRating("u1", "i3")
		require.NoError(t, err)
		assert.InDelta(t, 3.5, prediction, 1e-12)
	})

	t.Run("seen item predicts item mean", func(t *testing.T) {
		prediction, err := e.PredictRating("anyone", "i1")
		require.NoError(t, err)
		assert.InDelta(t, 4.5, prediction, 1e-12)
	})

	t.Run("recommends best items not yet rated", func(t *testing.T) {
		e.AddData("u3", "i3", 1.0, 3)

		items, err := e.PredictInterests("u3", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i2"}, items)

		items, err = e.PredictInterests("u1", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"i3"}, items)
	})

	t.Run("history", func(t *testing.T) {
		history := e.History("u1")
		require.Len(t, history, 2)
		assert.Equal(t, "i1", history[0].ItemID)
		assert.Equal(t, "i2", history[1].ItemID)
		assert.Empty(t, e.History("nobody"))
	})
}

func TestHeuristicEngine(t *testing.T) {
	_, err := NewHeuristicEngine(HeuristicConfig{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	e, err := NewHeuristicEngine(DefaultHeuristicConfig(), testLogger())
	require.NoError(t, err)

	_, err = e.PredictRating("u1", "i1")
	assert.True(t, errors.Is(err, ErrUnresolvableQuery))

	e.AddData("u1", "i1", 5, 1)
	e.AddData("u1", "i2", 3, 2)
	e.AddData("u2", "i1", 4, 3)
	e.AddData("u2", "i3", 5, 4)
	e.AddData("u3", "i1", 3, 5)
	require.NoError(t, e.Build())

	// influence[i1] = {i2: -1/2, i3: 0.5/2}
	items, err := e.PredictInterests("u3", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i2"}, items)

	items, err = e.PredictInterests("u3", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"i3"}, items)

	prediction, err := e.PredictRating("u1", "i3")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, prediction, 1e-12)

	prediction, err = e.PredictRating("stranger", "i3")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, prediction, 1e-12)
}

func TestHeuristicEngine_SkipsLongHistories(t *testing.T) {
	e, err := NewHeuristicEngine(HeuristicConfig{MaxHistory: 1}, testLogger())
	require.NoError(t, err)

	e.AddData("u1", "i1", 5, 1)
	e.AddData("u1", "i2", 3, 2)
	e.AddData("u2", "i1", 4, 3)
	require.NoError(t, e.Build())

	items, err := e.PredictInterests("u2", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

type fakeTrainer struct {
	users, items int
	samples      []Sample
	fitErr       error
}

func (f *fakeTrainer) Fit(ctx context.Context, users, items int, samples []Sample) error {
	f.users, f.items = users, items
	f.samples = samples
	return f.fitErr
}

// Predict scores a pair as its item index, so later items rank higher.
func (f *fakeTrainer) Predict(ctx context.Context, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = float64(p.ItemIndex)
	}
	return out, nil
}

func TestNeuralEngine(t *testing.T) {
	_, err := NewNeuralEngine(DefaultNeuralConfig(), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	trainer := &fakeTrainer{}
	e, err := NewNeuralEngine(NeuralConfig{}, trainer, testLogger())
	require.NoError(t, err)

	e.AddData("u1", "i1", 5, 1)
	e.AddData("u1", "i2", 3, 2)
	e.AddData("u2", "i3", 4, 3)
	e.AddData("u2", "i1", 1, 4)
	require.NoError(t, e.Build())

	assert.Equal(t, 2, trainer.users)
	assert.Equal(t, 3, trainer.items)
	assert.Equal(t, []Sample{
		{UserIndex: 0, ItemIndex: 0, Rating: 5},
		{UserIndex: 0, ItemIndex: 1, Rating: 3},
		{UserIndex: 1, ItemIndex: 2, Rating: 4},
		{UserIndex: 1, ItemIndex: 0, Rating: 1},
	}, trainer.samples)

	prediction, err := e.PredictRating("u1", "i3")
	require.NoError(t, err)
	assert.Equal(t, 2.0, prediction)

	prediction, err = e.PredictRating("u1", "unknown")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, prediction, 1e-12)

	_, err = e.PredictRating("stranger", "i1")
	assert.True(t, errors.Is(err, ErrUnresolvableQuery))

	items, err := e.PredictInterests("u2", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"i2"}, items)

	_, err = e.PredictInterests("stranger", 5)
	assert.True(t, errors.Is(err, ErrUnresolvableQuery))
}

func TestNeuralEngine_FitError(t *testing.T) {
	e, err := NewNeuralEngine(DefaultNeuralConfig(), &fakeTrainer{fitErr: errors.New("boom")}, testLogger())
	require.NoError(t, err)
	e.AddData("u1", "i1", 5, 1)

	err = e.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = e.PredictRating("u1", "i1")
	assert.True(t, errors.Is(err, ErrUnresolvableQuery), "a failed build leaves no embeddings")
}
