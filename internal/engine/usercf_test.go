package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserCF(t *testing.T, cfg UserCFConfig) *UserCFEngine {
	t.Helper()
	e, err := NewUserCFEngine(cfg, testLogger())
	require.NoError(t, err)
	return e
}

func TestNewUserCFEngine_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UserCFConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*UserCFConfig) {}},
		{name: "long correction alias", mutate: func(c *UserCFConfig) { c.CorrectionMode = "subtract_item_mean" }},
		{name: "long prediction alias", mutate: func(c *UserCFConfig) { c.PredictionMode = "mean_centered_weighted_average" }},
		{name: "unknown correction", mutate: func(c *UserCFConfig) { c.CorrectionMode = "median" }, wantErr: true},
		{name: "unknown prediction", mutate: func(c *UserCFConfig) { c.PredictionMode = "max" }, wantErr: true},
		{name: "zero neighbours", mutate: func(c *UserCFConfig) { c.NeighborSize = 0 }, wantErr: true},
		{name: "zero sample", mutate: func(c *UserCFConfig) { c.NeighbourSampleMaxSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultUserCFConfig()
			tt.mutate(&cfg)
			_, err := NewUserCFEngine(cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUserCFEngine_SingleRatingReturnsRating(t *testing.T) {
	e := newUserCF(t, DefaultUserCFConfig())
	e.AddData("u1", "i1", 3.5, 1)
	e.AddData("u2", "i2", 1, 2)
	require.NoError(t, e.Build())

	prediction, err := e.PredictRating("u1", "i1")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, prediction, 1e-9)
}

func TestUserCFEngine_IdenticalNeighbour(t *testing.T) {
	seed := func(e *UserCFEngine) {
		e.AddData("a", "i1", 5, 1)
		e.AddData("a", "i2", 3, 2)
		e.AddData("b", "i1", 5, 3)
		e.AddData("b", "i2", 3, 4)
		e.AddData("b", "i3", 2, 5)
	}

	t.Run("no correction", func(t *testing.T) {
		cfg := DefaultUserCFConfig()
		cfg.NeighborSize = 1
		e := newUserCF(t, cfg)
		seed(e)
		require.NoError(t, e.Build())

		assert.InDelta(t, 1.0, e.Similarity("a", "b"), 1e-12)

		prediction, err := e.PredictRating("a", "i3")
		require.NoError(t, err)
		assert.InDelta(t, 2.0, prediction, 1e-6)
	})

	t.Run("user mean correction predicts the corrected rating", func(t *testing.T) {
		cfg := DefaultUserCFConfig()
		cfg.NeighborSize = 1
		cfg.CorrectionMode = string(CorrectionUserMean)
		e := newUserCF(t, cfg)
		seed(e)
		require.NoError(t, e.Build())

		assert.InDelta(t, 1.0, e.Similarity("a", "b"), 1e-12)

		// b's mean is 10/3, so its corrected rating for i3 is 2 - 10/3.
		corrected, ok := e.rm.Rating("b", "i3")
		require.True(t, ok)
		assert.InDelta(t, -4.0/3.0, corrected, 1e-12)

		prediction, err := e.PredictRating("a", "i3")
		require.NoError(t, err)
		assert.InDelta(t, corrected, prediction, 1e-6)
	})

	t.Run("restore bias adds the target user's mean back", func(t *testing.T) {
		cfg := DefaultUserCFConfig()
		cfg.NeighborSize = 1
		cfg.CorrectionMode = string(CorrectionUserMean)
		cfg.RestoreBias = true
		e := newUserCF(t, cfg)
		seed(e)
		require.NoError(t, e.Build())

		prediction, err := e.PredictRating("a", "i3")
		require.NoError(t, err)
		assert.InDelta(t, 4.0-4.0/3.0, prediction, 1e-6)
	})
}

func TestUserCFEngine_Similarity(t *testing.T) {
	e := newUserCF(t, DefaultUserCFConfig())
	e.AddData("a", "i1", 5, 1)
	e.AddData("a", "i2", 1, 2)
	e.AddData("a", "i3", 3, 3)
	e.AddData("b", "i1", 1, 4)
	e.AddData("b", "i2", 5, 5)
	e.AddData("c", "i1", 4, 6)
	e.AddData("d", "i1", 2, 7)
	e.AddData("d", "i2", 2, 8)
	require.NoError(t, e.Build())

	assert.InDelta(t, -1.0, e.Similarity("a", "b"), 1e-12)
	assert.Equal(t, 0.0, e.Similarity("a", "c"), "single co-rated item")
	assert.Equal(t, 0.0, e.Similarity("a", "d"), "zero variance")
	assert.Equal(t, 0.0, e.Similarity("a", "nobody"))
}

func TestUserCFEngine_PredictionModes(t *testing.T) {
	seed := func(e *UserCFEngine) {
		// u rates low, v rates high, with the same shape.
		e.AddData("u", "i1", 1, 1)
		e.AddData("u", "i2", 3, 2)
		e.AddData("v", "i1", 3, 3)
		e.AddData("v", "i2", 5, 4)
		e.AddData("v", "i3", 5, 5)
	}

	cfg := DefaultUserCFConfig()
	e := newUserCF(t, cfg)
	seed(e)
	require.NoError(t, e.Build())
	plain, err := e.PredictRating("u", "i3")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, plain, 1e-6)

	cfg.PredictionMode = string(PredictionUnbiasedAverage)
	e = newUserCF(t, cfg)
	seed(e)
	require.NoError(t, e.Build())
	centred, err := e.PredictRating("u", "i3")
	require.NoError(t, err)
	// u mean 2, v mean 13/3: 2 + (5 - 13/3).
	assert.InDelta(t, 2.0+5.0-13.0/3.0, centred, 1e-6)
}

func TestUserCFEngine_Fallbacks(t *testing.T) {
	e := newUserCF(t, DefaultUserCFConfig())

	_, err := e.PredictRating("u1", "i1")
	assert.True(t, errors.Is(err, ErrUnresolvableQuery))

	e.AddData("u1", "i1", 4, 1)
	e.AddData("u2", "i1", 2, 2)
	e.AddData("u2", "i2", 5, 3)
	require.NoError(t, e.Build())

	t.Run("no neighbours returns user mean", func(t *testing.T) {
		prediction, err := e.PredictRating("u1", "i2")
		require.NoError(t, err)
		assert.InDelta(t, 4.0, prediction, 1e-9)
	})

	t.Run("unknown user returns item mean", func(t *testing.T) {
		prediction, err := e.PredictRating("stranger", "i1")
		require.NoError(t, err)
		assert.InDelta(t, 3.0, prediction, 1e-9)
	})

	t.Run("unknown user and item return global mean", func(t *testing.T) {
		prediction, err := e.PredictRating("stranger", "nothing")
		require.NoError(t, err)
		assert.InDelta(t, 11.0/3.0, prediction, 1e-9)
	})
}

func TestUserCFEngine_PredictInterests(t *testing.T) {
	e := newUserCF(t, DefaultUserCFConfig())
	e.AddData("a", "i1", 5, 1)
	e.AddData("a", "i2", 3, 2)
	e.AddData("b", "i1", 5, 3)
	e.AddData("b", "i2", 3, 4)
	e.AddData("b", "i3", 4, 5)
	e.AddData("b", "i4", 2, 6)
	e.AddData("c", "i5", 1, 7)
	require.NoError(t, e.Build())

	items, err := e.PredictInterests("a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i4"}, items)

	items, err = e.PredictInterests("a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"i3"}, items)

	items, err = e.PredictInterests("a", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUserCFEngine_OnlineUpdate(t *testing.T) {
	e := newUserCF(t, DefaultUserCFConfig())
	e.AddData("a", "i1", 5, 1)
	e.AddData("a", "i2", 3, 2)
	e.AddData("b", "i1", 5, 3)
	require.NoError(t, e.Build())

	e.AddData("b", "i2", 3, 4)
	require.NoError(t, e.OnlineUpdateStep("b", "i2"))
	e.AddData("b", "i3", 4, 5)
	require.NoError(t, e.OnlineUpdateStep("b", "i3"))

	assert.InDelta(t, 1.0, e.Similarity("a", "b"), 1e-12)

	prediction, err := e.PredictRating("a", "i3")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, prediction, 1e-6)
}

func TestUserCFEngine_BuildIsIdempotent(t *testing.T) {
	cfg := DefaultUserCFConfig()
	cfg.CorrectionMode = string(CorrectionItemMean)
	e := newUserCF(t, cfg)
	denseRatings(e)
	require.NoError(t, e.Build())

	first, err := e.PredictRating("u1", "i2")
	require.NoError(t, err)

	require.NoError(t, e.Build())
	second, err := e.PredictRating("u1", "i2")
	require.NoError(t, err)

	assert.InDelta(t, first, second, 1e-12)
}
