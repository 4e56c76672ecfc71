package ranking

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/anime-shed/proof-inspector-go/internal/errors"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

// Metric names a statistic results can be ordered by. Lower is better for all of them.
type Metric string

const (
	MetricRankScore Metric = "rank_score"
	MetricMeanDE    Metric = "mean_de"
	MetricP95DE     Metric = "p95_de"
	MetricMaxDE     Metric = "max_de"
)

// keys maps each metric to the stat it reads
var keys = map[Metric]func(models.Stats) float64{
	MetricRankScore: func(s models.Stats) float64 { return s.RankScore },
	MetricMeanDE:    func(s models.Stats) float64 { return s.MeanDE },
	MetricP95DE:     func(s models.Stats) float64 { return s.P95DE },
	MetricMaxDE:     func(s models.Stats) float64 { return s.MaxDE },
}

// Metrics lists the supported metrics in display order
func Metrics() []Metric {
	return []Metric{MetricRankScore, MetricMeanDE, MetricP95DE, MetricMaxDE}
}

// ParseMetric converts a user supplied metric name. An empty name means rank_score.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return MetricRankScore, nil
	}
	if _, ok := keys[m]; !ok {
		names := make([]string, 0, len(keys))
		for _, known := range Metrics() {
			names = append(names, string(known))
		}
		return "", apperrors.NewValidationError(
			fmt.Sprintf("unknown sort metric %q (expected one of %s)", s, strings.Join(names, ", ")), nil)
	}
	return m, nil
}

// Score is the weighted blend of tail and average error
func Score(stats models.Stats, weights models.RankWeights) float64 {
	return weights.P95*stats.P95DE + weights.Mean*stats.MeanDE
}

// Apply sets the result's rank score from its stats
func Apply(result *models.AnalysisResult, weights models.RankWeights) {
	if result == nil {
		return
	}
	result.Stats.RankScore = Score(result.Stats, weights)
}

// Sort returns a copy of results ordered ascending by metric.
// Ties keep their input order and the input slice is left untouched.
func Sort(results []models.AnalysisResult, metric Metric) []models.AnalysisResult {
	key, ok := keys[metric]
	if !ok {
		key = keys[MetricRankScore]
	}

	sorted := make([]models.AnalysisResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i].Stats) < key(sorted[j].Stats)
	})
	return sorted
}
