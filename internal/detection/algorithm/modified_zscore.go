package algorithm

import (
	"math"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// madScale converts a MAD into a consistent estimator of the standard
// deviation for normal data (0.6745 is the 75th percentile of the
// standard normal distribution).
const madScale = 0.6745

// ModifiedZScore replaces mean and standard deviation with median and
// MAD, making the verdict robust to outliers already in the window.
type ModifiedZScore struct{}

func (m *ModifiedZScore) Name() models.Algorithm { return models.AlgorithmModifiedZScore }

func (m *ModifiedZScore) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	threshold := EffectiveThreshold(cfg)
	if res, short := guard(window, candidate, cfg, threshold); short {
		return res
	}

	vals := values(window)
	med := median(vals)
	expected := med
	if cfg.EnableContextual {
		if seasonal, ok := seasonalExpected(window, candidate); ok {
			expected = seasonal
		}
	}

	deviation := mad(vals, med)
	if deviation == 0 {
		return ScoreResult{
			Score:         0,
			Normalized:    0,
			Threshold:     threshold,
			IsAnomaly:     false,
			ExpectedValue: expected,
			Reason:        ReasonDegenerateWindow,
		}
	}

	score := madScale * math.Abs(candidate.Value-expected) / deviation
	return ScoreResult{
		Score:         score,
		Normalized:    score / threshold,
		Threshold:     threshold,
		IsAnomaly:     score > threshold,
		ExpectedValue: expected,
	}
}
