package evaluation

import (
	"math"
	"sort"

	"github.com/temcen/recengine/pkg/models"
)

func SquaredError(actual, predicted float64) float64 {
	d := actual - predicted
	return d * d
}

func AbsoluteError(actual, predicted float64) float64 {
	return math.Abs(actual - predicted)
}

// HitRate is 1 when any recommended item appears in the truth list.
func HitRate(truth []models.RatingEvent, recommended []string) float64 {
	seen := make(map[string]struct{}, len(truth))
	for _, e := range truth {
		seen[e.ItemID] = struct{}{}
	}
	for _, itemID := range recommended {
		if _, ok := seen[itemID]; ok {
			return 1
		}
	}
	return 0
}

// UnseenPolicy decides how NDCG treats recommended items absent from the
// truth list.
type UnseenPolicy int

const (
	// UnseenZero scores unseen items with relevance 0, so even a low rating
	// beats recommending something the user never rated.
	UnseenZero UnseenPolicy = iota
	// UnseenExcluded drops unseen items before ranking positions are assigned.
	UnseenExcluded
)

// NDCG returns a RankingMetric using the rating as relevance.
//
// DCG = Σ rel_i / log2(i+2) over list positions i; the ideal list is the true
// ratings sorted descending, truncated to the evaluated list length.
func NDCG(policy UnseenPolicy) RankingMetric {
	return func(truth []models.RatingEvent, recommended []string) float64 {
		relevance := make(map[string]float64, len(truth))
		for _, e := range truth {
			relevance[e.ItemID] = e.Rating
		}

		list := recommended
		if policy == UnseenExcluded {
			list = make([]string, 0, len(recommended))
			for _, itemID := range recommended {
				if _, ok := relevance[itemID]; ok {
					list = append(list, itemID)
				}
			}
		}
		if len(list) == 0 {
			return 0
		}

		dcg := 0.0
		for i, itemID := range list {
			dcg += relevance[itemID] / math.Log2(float64(i+2))
		}

		ideal := make([]float64, 0, len(truth))
		for _, e := range truth {
			ideal = append(ideal, e.Rating)
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
		if len(ideal) > len(list) {
			ideal = ideal[:len(list)]
		}

		idcg := 0.0
		for i, rel := range ideal {
			idcg += rel / math.Log2(float64(i+2))
		}
		if idcg == 0 {
			return 0
		}
		return dcg / idcg
	}
}
