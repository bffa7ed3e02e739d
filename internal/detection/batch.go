package detection

import (
	"sort"

	"github.com/pulseboard/pulseboard-engine/internal/detection/algorithm"
	"github.com/pulseboard/pulseboard-engine/internal/detection/severity"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// DetectAnomalies runs one-shot analysis over a full historical series.
// The series is not bounded by the window size; a windowSize-wide
// lookback slides over it, scoring each point from index minSamples on
// against the points preceding it. Purely functional: no engine state
// is touched.
func DetectAnomalies(metricName string, samples []models.Sample, cfg models.DetectionConfig) (*models.AnomalyDetectionResult, error) {
	return DetectAnomaliesWithTruth(metricName, samples, cfg, nil)
}

// DetectAnomaliesWithTruth additionally scores recovery against known
// anomaly positions, for validation runs with injected anomalies.
// summary.Accuracy is the fraction of truth indices the run flagged,
// either individually or inside a collective span; with no truth it
// stays 0 and the run never blocks on its absence.
func DetectAnomaliesWithTruth(metricName string, samples []models.Sample, cfg models.DetectionConfig, truthIndices []int) (*models.AnomalyDetectionResult, error) {
	cfg, err := PrepareConfig(cfg)
	if err != nil {
		return nil, err
	}
	scorer, err := algorithm.New(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		idx int
		a   models.Anomaly
	}
	var found []indexed
	covered := make(map[int]bool)

	verdicts := make([]algorithm.ScoreResult, len(samples))
	for i := cfg.MinSamples; i < len(samples); i++ {
		start := i - cfg.WindowSize
		if start < 0 {
			start = 0
		}
		res := scorer.Score(samples[start:i], samples[i], cfg)
		verdicts[i] = res
		if res.IsAnomaly {
			found = append(found, indexed{i, severity.Build(metricName, samples[i], res, cfg.Algorithm)})
			covered[i] = true
		}
	}

	if cfg.EnableCollective {
		for _, run := range collectiveRuns(verdicts, cfg.MinSamples) {
			a := buildCollective(metricName, samples[run.peak], verdicts[run.peak], cfg.Algorithm, run.length())
			found = append(found, indexed{run.peak, a})
			for i := run.start; i <= run.end; i++ {
				covered[i] = true
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	}

	anomalies := make([]models.Anomaly, 0, len(found))
	for _, f := range found {
		anomalies = append(anomalies, f.a)
	}

	return &models.AnomalyDetectionResult{
		Anomalies: anomalies,
		Summary: models.DetectionSummary{
			Accuracy:      recoveryRate(truthIndices, covered),
			TotalPoints:   len(samples),
			AnomalyCount:  len(anomalies),
			AlgorithmUsed: cfg.Algorithm,
		},
	}, nil
}

func recoveryRate(truthIndices []int, covered map[int]bool) float64 {
	if len(truthIndices) == 0 {
		return 0
	}
	hit := 0
	for _, idx := range truthIndices {
		if covered[idx] {
			hit++
		}
	}
	return float64(hit) / float64(len(truthIndices))
}
