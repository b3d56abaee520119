package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// CorrectionMode selects the bias subtracted from matrix entries at build.
type CorrectionMode string

const (
	CorrectionNone     CorrectionMode = "none"
	CorrectionUserMean CorrectionMode = "user_mean"
	CorrectionItemMean CorrectionMode = "item_mean"
)

// PredictionMode selects how neighbour ratings are aggregated.
type PredictionMode string

const (
	// PredictionAverage is the plain weighted average Σ w·r / Σ|w|.
	PredictionAverage PredictionMode = "avg"
	// PredictionUnbiasedAverage is the mean-centred weighted average
	// r̄_u + Σ w·(r − r̄_v) / Σ|w|.
	PredictionUnbiasedAverage PredictionMode = "unbiased_avg"
)

const weightEpsilon = 1e-7

// ParseCorrectionMode accepts the short names and their long aliases.
func ParseCorrectionMode(s string) (CorrectionMode, error) {
	switch s {
	case "", "none":
		return CorrectionNone, nil
	case "user_mean", "subtract_user_mean":
		return CorrectionUserMean, nil
	case "item_mean", "subtract_item_mean":
		return CorrectionItemMean, nil
	}
	return "", fmt.Errorf("%w: unknown correction mode %q", ErrInvalidConfiguration, s)
}

// ParsePredictionMode accepts the short names and their long aliases.
func ParsePredictionMode(s string) (PredictionMode, error) {
	switch s {
	case "", "avg", "plain_weighted_average":
		return PredictionAverage, nil
	case "unbiased_avg", "mean_centered_weighted_average":
		return PredictionUnbiasedAverage, nil
	}
	return "", fmt.Errorf("%w: unknown prediction mode %q", ErrInvalidConfiguration, s)
}

// UserCFConfig configures the neighbourhood engine.
type UserCFConfig struct {
	// NeighborSize is the number of neighbours used in the final aggregate.
	NeighborSize int `mapstructure:"neighbor_size"`

	CorrectionMode string `mapstructure:"correction_mode"`
	PredictionMode string `mapstructure:"prediction_mode"`

	// NeighbourSampleMaxSize caps the candidate pool, ranked by co-rated
	// item count, before similarities are computed.
	NeighbourSampleMaxSize int `mapstructure:"neighbour_sample_max_size"`

	// RestoreBias adds the correction bias of the target cell back onto the
	// aggregate, putting corrected predictions back on the rating scale.
	RestoreBias bool `mapstructure:"restore_bias"`
}

func DefaultUserCFConfig() UserCFConfig {
	return UserCFConfig{
		NeighborSize:           5,
		CorrectionMode:         string(CorrectionNone),
		PredictionMode:         string(PredictionAverage),
		NeighbourSampleMaxSize: 20,
	}
}

// UserCFEngine is user-based nearest-neighbour collaborative filtering.
//
// Similarity is the Pearson correlation of two users' matrix entries over
// their co-rated items. When a bias correction is configured the entries are
// bias-corrected and the aggregate is expressed in corrected units unless
// RestoreBias is set.
type UserCFEngine struct {
	baseEngine
	neighborSize int
	sampleMax    int
	correction   CorrectionMode
	prediction   PredictionMode
	restoreBias  bool

	rm        *RatingMatrix
	userItems map[string]map[string]struct{}
	itemUsers map[string]map[string]struct{}
}

func NewUserCFEngine(cfg UserCFConfig, logger *logrus.Logger) (*UserCFEngine, error) {
	correction, err := ParseCorrectionMode(cfg.CorrectionMode)
	if err != nil {
		return nil, err
	}
	prediction, err := ParsePredictionMode(cfg.PredictionMode)
	if err != nil {
		return nil, err
	}
	if cfg.NeighborSize <= 0 {
		return nil, fmt.Errorf("%w: neighbor size must be positive, got %d", ErrInvalidConfiguration, cfg.NeighborSize)
	}
	if cfg.NeighbourSampleMaxSize <= 0 {
		return nil, fmt.Errorf("%w: neighbour sample size must be positive, got %d", ErrInvalidConfiguration, cfg.NeighbourSampleMaxSize)
	}

	return &UserCFEngine{
		baseEngine:   newBaseEngine("user_cf", logger),
		neighborSize: cfg.NeighborSize,
		sampleMax:    cfg.NeighbourSampleMaxSize,
		correction:   correction,
		prediction:   prediction,
		restoreBias:  cfg.RestoreBias,
		userItems:    make(map[string]map[string]struct{}),
		itemUsers:    make(map[string]map[string]struct{}),
	}, nil
}

func (e *UserCFEngine) Build() error {
	e.rm = BuildRatingMatrix(e.store)
	e.userItems = make(map[string]map[string]struct{}, e.store.NumUsers())
	e.itemUsers = make(map[string]map[string]struct{}, e.store.NumItems())

	for _, userID := range e.store.Users() {
		for _, r := range e.store.UserHistory(userID) {
			e.link(r.UserID, r.ItemID)
		}
	}

	if e.correction != CorrectionNone {
		rows, _ := e.rm.M.Dims()
		for row := 0; row < rows; row++ {
			userID := e.rm.UserIndex.ID(row)
			cells := e.rm.M.Row(row)
			for col, v := range cells {
				cells[col] = v - e.bias(userID, e.rm.ItemIndex.ID(col))
			}
		}
	}

	rows, cols := e.rm.M.Dims()
	e.logger.WithFields(logrus.Fields{
		"users":      rows,
		"items":      cols,
		"correction": e.correction,
	}).Info("User CF model built")

	return nil
}

// OnlineUpdateStep writes the new rating into the matrix, corrected with the
// build-time means, and extends the neighbour index.
func (e *UserCFEngine) OnlineUpdateStep(userID, itemID string) error {
	if e.rm == nil {
		return nil
	}
	rating, ok := e.store.LatestRating(userID, itemID)
	if !ok {
		return nil
	}

	row := e.rm.UserIndex.Assign(userID)
	col := e.rm.ItemIndex.Assign(itemID)
	e.rm.M.Set(row, col, rating-e.bias(userID, itemID))
	e.link(userID, itemID)

	return nil
}

func (e *UserCFEngine) PredictRating(userID, itemID string) (float64, error) {
	userMean, ok := e.userMean(userID)
	if !ok {
		if mean, ok := e.store.ItemMean(itemID); ok {
			return mean, nil
		}
		if e.rm != nil && e.rm.M.NNZ() > 0 {
			return e.rm.GlobalMean, nil
		}
		return 0, fmt.Errorf("%w: no history for user %q", ErrUnresolvableQuery, userID)
	}
	if e.rm == nil {
		return userMean, nil
	}

	neighbors := e.neighbors(userID, itemID)
	if len(neighbors) == 0 {
		return userMean, nil
	}

	acc, weights := 0.0, 0.0
	for _, nb := range neighbors {
		r, _ := e.rm.Rating(nb.id, itemID)
		if e.prediction == PredictionUnbiasedAverage {
			r -= e.correctedMean(nb.id)
		}
		acc += nb.score * r
		weights += math.Abs(nb.score)
	}

	prediction := acc / (weights + weightEpsilon)
	if e.prediction == PredictionUnbiasedAverage {
		prediction += e.correctedMean(userID)
	}
	if e.restoreBias {
		prediction += e.bias(userID, itemID)
	}
	return prediction, nil
}

// PredictInterests ranks every item reachable through the user's candidate
// neighbours by predicted rating.
func (e *UserCFEngine) PredictInterests(userID string, n int) ([]string, error) {
	if e.rm == nil || n <= 0 {
		return []string{}, nil
	}

	rated := e.store.RatedItems(userID)
	reachable := make(map[string]struct{})
	for item := range e.userItems[userID] {
		for other := range e.itemUsers[item] {
			for candidate := range e.userItems[other] {
				if _, seen := rated[candidate]; !seen {
					reachable[candidate] = struct{}{}
				}
			}
		}
	}

	scored := make([]scoredItem, 0, len(reachable))
	for itemID := range reachable {
		score, err := e.PredictRating(userID, itemID)
		if err != nil {
			return nil, err
		}
		scored = append(scored, scoredItem{id: itemID, score: score})
	}

	return topN(scored, rated, n), nil
}

// candidates returns raters of itemID ranked by the number of items they
// share with userID, capped at the sample size. The querying user and users
// with no overlap are excluded.
func (e *UserCFEngine) candidates(userID, itemID string) []string {
	raters := e.itemUsers[itemID]
	if len(raters) == 0 {
		return nil
	}
	mine := e.userItems[userID]

	type overlap struct {
		id    string
		count int
	}
	ranked := make([]overlap, 0, len(raters))
	for other := range raters {
		if other == userID {
			continue
		}
		count := 0
		for item := range e.userItems[other] {
			if _, ok := mine[item]; ok {
				count++
			}
		}
		if count > 0 {
			ranked = append(ranked, overlap{id: other, count: count})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > e.sampleMax {
		ranked = ranked[:e.sampleMax]
	}

	out := make([]string, len(ranked))
	for i, o := range ranked {
		out[i] = o.id
	}
	return out
}

// neighbors scores the candidates and keeps the top NeighborSize by
// similarity magnitude. Zero similarities carry no weight and are dropped.
func (e *UserCFEngine) neighbors(userID, itemID string) []scoredItem {
	var scored []scoredItem
	for _, cand := range e.candidates(userID, itemID) {
		if _, ok := e.rm.Rating(cand, itemID); !ok {
			continue
		}
		sim := e.Similarity(userID, cand)
		if sim == 0 {
			continue
		}
		scored = append(scored, scoredItem{id: cand, score: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		ai, aj := math.Abs(scored[i].score), math.Abs(scored[j].score)
		if ai != aj {
			return ai > aj
		}
		return scored[i].id < scored[j].id
	})
	if len(scored) > e.neighborSize {
		scored = scored[:e.neighborSize]
	}
	return scored
}

// Similarity is the Pearson correlation between two users' matrix entries
// restricted to co-rated items. It is 0 with fewer than two co-rated items or
// when either side has no variance.
func (e *UserCFEngine) Similarity(userA, userB string) float64 {
	if e.rm == nil {
		return 0
	}

	itemsB := e.userItems[userB]
	corated := make([]string, 0)
	for item := range e.userItems[userA] {
		if _, ok := itemsB[item]; ok {
			corated = append(corated, item)
		}
	}
	if len(corated) < 2 {
		return 0
	}
	sort.Strings(corated)

	xs := make([]float64, 0, len(corated))
	ys := make([]float64, 0, len(corated))
	for _, item := range corated {
		a, okA := e.rm.Rating(userA, item)
		b, okB := e.rm.Rating(userB, item)
		if okA && okB {
			xs = append(xs, a)
			ys = append(ys, b)
		}
	}

	return pearson(xs, ys)
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}

	meanX, meanY := 0.0, 0.0
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	sxy, sxx, syy := 0.0, 0.0, 0.0
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx < epsilon64 || syy < epsilon64 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// bias is the value subtracted from a (user, item) cell under the configured
// correction.
func (e *UserCFEngine) bias(userID, itemID string) float64 {
	switch e.correction {
	case CorrectionUserMean:
		mean, _ := e.userMean(userID)
		return mean
	case CorrectionItemMean:
		if e.rm != nil {
			if mean, ok := e.rm.ItemMean[itemID]; ok {
				return mean
			}
		}
		if mean, ok := e.store.ItemMean(itemID); ok {
			return mean
		}
		if e.rm != nil {
			return e.rm.GlobalMean
		}
	}
	return 0
}

// userMean is the raw mean rating of the user, build-time value first.
func (e *UserCFEngine) userMean(userID string) (float64, bool) {
	if e.rm != nil {
		if mean, ok := e.rm.UserMean[userID]; ok {
			return mean, true
		}
	}
	return e.store.UserMean(userID)
}

// correctedMean is the mean of the user's matrix entries, i.e. in the same
// space as the entries used for similarity and aggregation.
func (e *UserCFEngine) correctedMean(userID string) float64 {
	row, ok := e.rm.UserIndex.Lookup(userID)
	if !ok {
		return 0
	}
	cells := e.rm.M.Row(row)
	if len(cells) == 0 {
		return 0
	}
	cols := make([]int, 0, len(cells))
	for col := range cells {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	sum := 0.0
	for _, col := range cols {
		sum += cells[col]
	}
	return sum / float64(len(cells))
}

func (e *UserCFEngine) link(userID, itemID string) {
	if e.userItems[userID] == nil {
		e.userItems[userID] = make(map[string]struct{})
	}
	if e.itemUsers[itemID] == nil {
		e.itemUsers[itemID] = make(map[string]struct{})
	}
	e.userItems[userID][itemID] = struct{}{}
	e.itemUsers[itemID][userID] = struct{}{}
}
