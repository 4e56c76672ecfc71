package ranking

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// Summary aggregates the stats of several proofs
type Summary struct {
	Count           int
	MeanDE          float64
	StdDevMeanDE    float64
	MedianRankScore float64
	WorstMaxDE      float64
	// Best is the index of the lowest rank score, -1 when empty
	Best int
}

// Summarize computes aggregate figures over results. An empty input yields a zero summary with Best = -1.
func Summarize(results []models.AnalysisResult) Summary {
	s := Summary{Count: len(results), Best: -1}
	if len(results) == 0 {
		return s
	}

	means := make([]float64, len(results))
	scores := make([]float64, len(results))
	maxes := make([]float64, len(results))
	for i, r := range results {
		means[i] = r.Stats.MeanDE
		scores[i] = r.Stats.RankScore
		maxes[i] = r.Stats.MaxDE
	}

	s.MeanDE = stat.Mean(means, nil)
	if len(means) > 1 {
		s.StdDevMeanDE = stat.StdDev(means, nil)
	}
	s.WorstMaxDE = floats.Max(maxes)
	s.Best = floats.MinIdx(scores)

	sort.Float64s(scores)
	s.MedianRankScore = stat.Quantile(0.5, stat.Empirical, scores, nil)
	return s
}
