// Package evaluation replays rating histories against recommender engines in
// chronological order and scores their predictions.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/pkg/models"
)

// ErrNoTestEvents is returned when the test partitions hold no events, so no
// mean score exists.
var ErrNoTestEvents = errors.New("no test events")

// boundaryTolerance absorbs float error in cumulative ratios such as
// 0.7+0.15 before flooring.
const boundaryTolerance = 1e-9

// Partition is a named share of each user's chronological history.
type Partition struct {
	Name  string  `mapstructure:"name"`
	Ratio float64 `mapstructure:"ratio"`
}

func DefaultPartitions() []Partition {
	return []Partition{{Name: "train", Ratio: 0.8}, {Name: "test", Ratio: 0.2}}
}

// RecordSource yields rating events. Loaders satisfy it.
type RecordSource interface {
	Records(ctx context.Context, fn func(models.RatingEvent) error) error
}

// Scorer compares an actual rating with a prediction.
type Scorer func(actual, predicted float64) float64

// RankingMetric scores a recommended list against the events the user
// actually produced.
type RankingMetric func(truth []models.RatingEvent, recommended []string) float64

type Options struct {
	// TopN is the list length requested from PredictInterests.
	TopN int `mapstructure:"top_n"`

	// OnlineUpdates calls OnlineUpdateStep after every replayed event.
	OnlineUpdates bool `mapstructure:"online_updates"`

	// ProgressEvery logs progress after this many replayed events. 0 disables.
	ProgressEvery int `mapstructure:"progress_every"`
}

func DefaultOptions() Options {
	return Options{TopN: 5, ProgressEvery: 10000}
}

// TimeBasedEvaluator sorts all events by timestamp, groups them per user and
// cuts each user's history into consecutive partitions. Every user with at
// least one test event therefore has earlier events in the train partitions,
// given enough history.
type TimeBasedEvaluator struct {
	partitions map[string][]models.RatingEvent
	names      []string
	options    Options
	logger     *logrus.Logger
}

// NewTimeBasedEvaluator reads every record from src and partitions it. A nil
// partitions slice selects DefaultPartitions.
func NewTimeBasedEvaluator(ctx context.Context, src RecordSource, partitions []Partition, opts Options, logger *logrus.Logger) (*TimeBasedEvaluator, error) {
	var events []models.RatingEvent
	err := src.Records(ctx, func(e models.RatingEvent) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return NewTimeBasedEvaluatorFromEvents(events, partitions, opts, logger)
}

// NewTimeBasedEvaluatorFromEvents partitions an in-memory event list. The
// slice is not modified.
func NewTimeBasedEvaluatorFromEvents(events []models.RatingEvent, partitions []Partition, opts Options, logger *logrus.Logger) (*TimeBasedEvaluator, error) {
	if partitions == nil {
		partitions = DefaultPartitions()
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultOptions().TopN
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	seen := make(map[string]bool, len(partitions))
	total := 0.0
	for _, p := range partitions {
		if p.Name == "" || seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate or empty partition name %q", engine.ErrInvalidConfiguration, p.Name)
		}
		if p.Ratio < 0 {
			return nil, fmt.Errorf("%w: partition %q has negative ratio", engine.ErrInvalidConfiguration, p.Name)
		}
		seen[p.Name] = true
		total += p.Ratio
	}
	if total > 1+boundaryTolerance {
		return nil, fmt.Errorf("%w: partition ratios sum to %.4f", engine.ErrInvalidConfiguration, total)
	}

	sorted := append([]models.RatingEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var users []string
	byUser := make(map[string][]models.RatingEvent)
	for _, e := range sorted {
		if _, ok := byUser[e.UserID]; !ok {
			users = append(users, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	ev := &TimeBasedEvaluator{
		partitions: make(map[string][]models.RatingEvent, len(partitions)),
		options:    opts,
		logger:     logger,
	}

	start := 0.0
	for _, p := range partitions {
		end := start + p.Ratio
		var slice []models.RatingEvent
		for _, userID := range users {
			history := byUser[userID]
			from, to := boundary(len(history), start), boundary(len(history), end)
			slice = append(slice, history[from:to]...)
		}
		ev.partitions[p.Name] = slice
		ev.names = append(ev.names, p.Name)
		start = end
	}

	logger.WithFields(logrus.Fields{
		"events":     len(sorted),
		"users":      len(users),
		"partitions": ev.sizes(),
	}).Info("Evaluation data partitioned")

	return ev, nil
}

// boundary maps a cumulative ratio onto an index of an n-event history.
// Adjacent partitions share the boundary, so no event is lost or repeated.
func boundary(n int, ratio float64) int {
	idx := int(math.Floor(float64(n)*ratio + boundaryTolerance))
	return min(max(idx, 0), n)
}

func (ev *TimeBasedEvaluator) sizes() map[string]int {
	out := make(map[string]int, len(ev.partitions))
	for name, events := range ev.partitions {
		out[name] = len(events)
	}
	return out
}

// Partition returns a copy of the events in a named partition.
func (ev *TimeBasedEvaluator) Partition(name string) ([]models.RatingEvent, bool) {
	events, ok := ev.partitions[name]
	if !ok {
		return nil, false
	}
	return append([]models.RatingEvent(nil), events...), true
}

// PartitionNames returns names in declaration order.
func (ev *TimeBasedEvaluator) PartitionNames() []string {
	return append([]string(nil), ev.names...)
}

func (ev *TimeBasedEvaluator) lookup(names []string) ([][]models.RatingEvent, error) {
	out := make([][]models.RatingEvent, 0, len(names))
	for _, name := range names {
		events, ok := ev.partitions[name]
		if !ok {
			return nil, fmt.Errorf("unknown partition %q", name)
		}
		out = append(out, events)
	}
	return out, nil
}

// prepare feeds the train partitions and builds the engine once.
func (ev *TimeBasedEvaluator) prepare(re engine.Engine, train, test []string) ([][]models.RatingEvent, error) {
	trainSets, err := ev.lookup(train)
	if err != nil {
		return nil, err
	}
	testSets, err := ev.lookup(test)
	if err != nil {
		return nil, err
	}

	empty := true
	for _, events := range testSets {
		if len(events) > 0 {
			empty = false
		}
	}
	if empty {
		return nil, ErrNoTestEvents
	}

	fed := 0
	for _, events := range trainSets {
		for _, e := range events {
			re.AddData(e.UserID, e.ItemID, e.Rating, e.Timestamp)
			fed++
		}
	}

	start := time.Now()
	if err := re.Build(); err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", re.Name(), err)
	}
	ev.logger.WithFields(logrus.Fields{
		"algorithm": re.Name(),
		"train":     fed,
		"elapsed":   time.Since(start),
	}).Info("Engine built for evaluation")

	return testSets, nil
}

// feed adds a replayed event back into the engine.
func (ev *TimeBasedEvaluator) feed(re engine.Engine, e models.RatingEvent) error {
	re.AddData(e.UserID, e.ItemID, e.Rating, e.Timestamp)
	if !ev.options.OnlineUpdates {
		return nil
	}
	if err := re.OnlineUpdateStep(e.UserID, e.ItemID); err != nil {
		return fmt.Errorf("online update for %s failed: %w", e, err)
	}
	return nil
}

func (ev *TimeBasedEvaluator) progress(re engine.Engine, done int) {
	if ev.options.ProgressEvery > 0 && done%ev.options.ProgressEvery == 0 {
		ev.logger.WithFields(logrus.Fields{
			"algorithm": re.Name(),
			"replayed":  done,
		}).Debug("Evaluation progress")
	}
}

// EvaluateScoring feeds train, builds once, then for every test event in
// order predicts its rating, scores it with every scorer and feeds it back.
// The result is the elementwise mean of the score vectors.
func (ev *TimeBasedEvaluator) EvaluateScoring(re engine.Engine, scorers []Scorer, train, test []string) ([]float64, error) {
	testSets, err := ev.prepare(re, train, test)
	if err != nil {
		return nil, err
	}

	sum := make([]float64, len(scorers))
	row := make([]float64, len(scorers))
	count := 0
	for _, events := range testSets {
		for _, e := range events {
			predicted, err := re.PredictRating(e.UserID, e.ItemID)
			if err != nil {
				return nil, fmt.Errorf("prediction for %s failed: %w", e, err)
			}
			for i, scorer := range scorers {
				row[i] = scorer(e.Rating, predicted)
			}
			floats.Add(sum, row)
			count++

			if err := ev.feed(re, e); err != nil {
				return nil, err
			}
			ev.progress(re, count)
		}
	}

	floats.Scale(1/float64(count), sum)
	ev.logger.WithFields(logrus.Fields{
		"algorithm": re.Name(),
		"events":    count,
		"scores":    sum,
	}).Info("Scoring evaluation finished")

	return sum, nil
}

// EvaluateRanking feeds train, builds once, then per test partition and per
// user in first-seen order requests TopN interests, scores them against the
// user's events in that partition and feeds those events back.
func (ev *TimeBasedEvaluator) EvaluateRanking(re engine.Engine, metrics []RankingMetric, train, test []string) ([]float64, error) {
	testSets, err := ev.prepare(re, train, test)
	if err != nil {
		return nil, err
	}

	sum := make([]float64, len(metrics))
	row := make([]float64, len(metrics))
	count, replayed := 0, 0
	for _, events := range testSets {
		users, byUser := groupByUser(events)
		for _, userID := range users {
			truth := byUser[userID]
			recommended, err := re.PredictInterests(userID, ev.options.TopN)
			if err != nil {
				return nil, fmt.Errorf("interests for user %s failed: %w", userID, err)
			}
			for i, metric := range metrics {
				row[i] = metric(truth, recommended)
			}
			floats.Add(sum, row)
			count++

			for _, e := range truth {
				if err := ev.feed(re, e); err != nil {
					return nil, err
				}
				replayed++
				ev.progress(re, replayed)
			}
		}
	}

	floats.Scale(1/float64(count), sum)
	ev.logger.WithFields(logrus.Fields{
		"algorithm": re.Name(),
		"users":     count,
		"top_n":     ev.options.TopN,
		"scores":    sum,
	}).Info("Ranking evaluation finished")

	return sum, nil
}

func groupByUser(events []models.RatingEvent) ([]string, map[string][]models.RatingEvent) {
	var users []string
	byUser := make(map[string][]models.RatingEvent)
	for _, e := range events {
		if _, ok := byUser[e.UserID]; !ok {
			users = append(users, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}
	return users, byUser
}
