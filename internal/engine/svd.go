package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SVDConfig configures the factorization engine.
type SVDConfig struct {
	// Components is the rank k of the truncated decomposition.
	Components int `mapstructure:"components"`

	// IncludeAvgRating adds the item mean to affinities when ranking.
	IncludeAvgRating bool `mapstructure:"include_avg_rating"`

	// MaxCells bounds users×items. The decomposition runs on a dense copy of
	// the rating matrix, eight bytes per cell. Zero disables the check.
	MaxCells int `mapstructure:"max_cells"`
}

// DefaultMaxCells keeps the dense matrix around 1.6 GB. MovieLens 1M fits,
// MovieLens 20M does not.
const DefaultMaxCells = 200_000_000

func DefaultSVDConfig() SVDConfig {
	return SVDConfig{Components: 40, MaxCells: DefaultMaxCells}
}

// SVDEngine is collaborative filtering over a truncated SVD of the
// item-mean-centred rating matrix.
//
// The decomposition R ≈ U·(Σ·Vᵀ) keeps U rows as user vectors and the rows of
// C = V·Σ as item vectors. pinv(Cᵀ) is kept after Build so that a single user
// row can be re-projected with item factors held fixed (OnlineUpdateStep).
// That update cannot correct item means or other users' vectors; accuracy
// drifts until the next Build.
type SVDEngine struct {
	baseEngine
	config SVDConfig

	built      bool
	globalMean float64
	rank       int

	userVectors map[string][]float64
	itemVectors map[string][]float64
	itemMean    map[string]float64

	userIndex     *IndexMap
	itemIndex     *IndexMap
	demeaned      *SparseMatrix
	colFactors    *mat.Dense // items×k
	colFactorsInv *mat.Dense // items×k, pinv(colFactorsᵀ)
}

func NewSVDEngine(cfg SVDConfig, logger *logrus.Logger) (*SVDEngine, error) {
	if cfg.Components <= 0 {
		return nil, fmt.Errorf("%w: svd components must be positive, got %d", ErrInvalidConfiguration, cfg.Components)
	}
	e := &SVDEngine{
		baseEngine: newBaseEngine("svd", logger),
		config:     cfg,
	}
	e.reset()
	return e, nil
}

func (e *SVDEngine) reset() {
	e.built = false
	e.globalMean = 0
	e.rank = 0
	e.userVectors = make(map[string][]float64)
	e.itemVectors = make(map[string][]float64)
	e.itemMean = make(map[string]float64)
	e.userIndex = NewIndexMap()
	e.itemIndex = NewIndexMap()
	e.demeaned = nil
	e.colFactors = nil
	e.colFactorsInv = nil
}

func (e *SVDEngine) Build() error {
	e.reset()

	rm := BuildRatingMatrix(e.store)
	rows, cols := rm.M.Dims()
	if rows == 0 || cols == 0 {
		e.logger.Debug("SVD build skipped, no ratings")
		return nil
	}
	if e.config.MaxCells > 0 && rows*cols > e.config.MaxCells {
		return fmt.Errorf("%w: %d users × %d items exceeds svd max_cells %d", ErrModelTooLarge, rows, cols, e.config.MaxCells)
	}

	e.userIndex = rm.UserIndex
	e.itemIndex = rm.ItemIndex
	e.itemMean = rm.ItemMean

	e.demeaned = NewSparseMatrix(rows, cols)
	for row := 0; row < rows; row++ {
		for col, v := range rm.M.Row(row) {
			e.demeaned.Set(row, col, v-e.itemMean[e.itemIndex.ID(col)])
		}
	}

	means := make([]float64, 0, cols)
	for _, itemID := range e.itemIndex.IDs() {
		means = append(means, e.itemMean[itemID])
	}
	e.globalMean = floats.Sum(means) / float64(len(means))

	u, s, v, err := truncatedSVD(e.demeaned.Dense(), e.config.Components)
	if err != nil {
		return fmt.Errorf("failed to factorize rating matrix: %w", err)
	}
	e.rank = len(s)

	colFactors := mat.NewDense(cols, e.rank, nil)
	colFactors.Apply(func(i, j int, _ float64) float64 { return v.At(i, j) * s[j] }, colFactors)
	e.colFactors = colFactors

	inv, err := pseudoInverse(colFactors.T())
	if err != nil {
		return fmt.Errorf("failed to invert column factors: %w", err)
	}
	e.colFactorsInv = inv

	for row, userID := range e.userIndex.IDs() {
		e.userVectors[userID] = mat.Row(nil, row, u)
	}
	for col, itemID := range e.itemIndex.IDs() {
		e.itemVectors[itemID] = mat.Row(nil, col, colFactors)
	}
	e.built = true

	e.logger.WithFields(logrus.Fields{
		"users":       rows,
		"items":       cols,
		"ratings":     rm.M.NNZ(),
		"rank":        e.rank,
		"global_mean": e.globalMean,
	}).Info("SVD model built")

	return nil
}

// OnlineUpdateStep re-derives the user's vector from their demeaned row and
// the stored pinv(Cᵀ). Items unknown at build time are ignored.
func (e *SVDEngine) OnlineUpdateStep(userID, itemID string) error {
	if e.colFactorsInv == nil {
		return nil
	}
	col, ok := e.itemIndex.Lookup(itemID)
	if !ok {
		return nil
	}

	rating, ok := e.store.LatestRating(userID, itemID)
	if !ok {
		rating = e.globalMean
	}

	// A new user's row is appended to the demeaned matrix.
	row := e.userIndex.Assign(userID)
	e.demeaned.Set(row, col, rating-e.itemMean[itemID])

	var vec mat.VecDense
	vec.MulVec(e.colFactorsInv.T(), e.demeaned.DenseRow(row))
	e.userVectors[userID] = mat.Col(nil, 0, &vec)

	return nil
}

func (e *SVDEngine) PredictRating(userID, itemID string) (float64, error) {
	userVec, haveUser := e.userVectors[userID]
	itemVec, haveItem := e.itemVectors[itemID]

	if haveUser {
		personal := 0.0
		if haveItem {
			personal = floats.Dot(userVec, itemVec)
		}
		return personal + e.itemMeanOrGlobal(itemID), nil
	}

	// No vector for the user: their own history mean, then item/global means.
	if mean, ok := e.store.UserMean(userID); ok {
		return mean, nil
	}
	if mean, ok := e.itemMean[itemID]; ok {
		return mean, nil
	}
	if e.built {
		return e.globalMean, nil
	}
	return 0, fmt.Errorf("%w: no history for user %q and no model built", ErrUnresolvableQuery, userID)
}

func (e *SVDEngine) PredictInterests(userID string, n int) ([]string, error) {
	if e.colFactors == nil {
		return []string{}, nil
	}

	userVec, ok := e.userVectors[userID]
	if !ok {
		userVec = make([]float64, e.rank)
	}

	var affinities mat.VecDense
	affinities.MulVec(e.colFactors, mat.NewVecDense(e.rank, userVec))

	scored := make([]scoredItem, 0, e.itemIndex.Len())
	for col, itemID := range e.itemIndex.IDs() {
		score := affinities.AtVec(col)
		if e.config.IncludeAvgRating {
			score += e.itemMean[itemID]
		}
		scored = append(scored, scoredItem{id: itemID, score: score})
	}

	return topN(scored, e.store.RatedItems(userID), n), nil
}

func (e *SVDEngine) itemMeanOrGlobal(itemID string) float64 {
	if mean, ok := e.itemMean[itemID]; ok {
		return mean
	}
	return e.globalMean
}

// Rank is the number of latent dimensions actually kept by the last Build.
func (e *SVDEngine) Rank() int { return e.rank }

// UserVector returns a copy of the user's latent vector.
func (e *SVDEngine) UserVector(userID string) ([]float64, bool) {
	v, ok := e.userVectors[userID]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// ColumnFactors returns a copy of C = V·Σ (items×k) and the item ids in row
// order.
func (e *SVDEngine) ColumnFactors() (*mat.Dense, []string) {
	if e.colFactors == nil {
		return nil, nil
	}
	return mat.DenseCopyOf(e.colFactors), append([]string(nil), e.itemIndex.IDs()...)
}

// ItemMean returns the build-time mean rating of an item.
func (e *SVDEngine) ItemMean(itemID string) (float64, bool) {
	m, ok := e.itemMean[itemID]
	return m, ok
}
