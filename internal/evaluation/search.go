package evaluation

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/engine"
)

// Candidate is a named engine constructor evaluated by RankSearch. Every run
// needs a fresh engine since evaluation feeds data into it.
type Candidate struct {
	Name string
	New  func() (engine.Engine, error)
}

type SearchResult struct {
	Name   string
	Scores []float64
}

// RankSearch runs EvaluateScoring for every candidate and returns all results
// together with the index of the one with the lowest first score.
func (ev *TimeBasedEvaluator) RankSearch(candidates []Candidate, scorers []Scorer, train, test []string) ([]SearchResult, int, error) {
	if len(candidates) == 0 {
		return nil, -1, fmt.Errorf("%w: no candidates", engine.ErrInvalidConfiguration)
	}
	if len(scorers) == 0 {
		return nil, -1, fmt.Errorf("%w: at least one scorer is required", engine.ErrInvalidConfiguration)
	}

	results := make([]SearchResult, 0, len(candidates))
	best := -1
	for _, c := range candidates {
		re, err := c.New()
		if err != nil {
			return nil, -1, fmt.Errorf("failed to create candidate %s: %w", c.Name, err)
		}
		scores, err := ev.EvaluateScoring(re, scorers, train, test)
		if err != nil {
			return nil, -1, fmt.Errorf("candidate %s: %w", c.Name, err)
		}

		results = append(results, SearchResult{Name: c.Name, Scores: scores})
		if best < 0 || scores[0] < results[best].Scores[0] {
			best = len(results) - 1
		}

		ev.logger.WithFields(logrus.Fields{
			"candidate": c.Name,
			"scores":    scores,
		}).Info("Candidate evaluated")
	}

	return results, best, nil
}
