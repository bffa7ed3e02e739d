package algorithm

import (
	"math"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// ZScore flags points whose deviation from the window mean exceeds the
// threshold in standard deviations. A flat window (stddev 0) cannot
// produce a z-score anomaly.
type ZScore struct{}

func (z *ZScore) Name() models.Algorithm { return models.AlgorithmZScore }

func (z *ZScore) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	threshold := EffectiveThreshold(cfg)
	if res, short := guard(window, candidate, cfg, threshold); short {
		return res
	}

	vals := values(window)
	expected := mean(vals)
	if cfg.EnableContextual {
		if seasonal, ok := seasonalExpected(window, candidate); ok {
			expected = seasonal
		}
	}

	sd := stdDev(vals)
	if sd == 0 {
		return ScoreResult{
			Score:         0,
			Normalized:    0,
			Threshold:     threshold,
			IsAnomaly:     false,
			ExpectedValue: expected,
			Reason:        ReasonDegenerateWindow,
		}
	}

	score := math.Abs(candidate.Value-expected) / sd
	return ScoreResult{
		Score:         score,
		Normalized:    score / threshold,
		Threshold:     threshold,
		IsAnomaly:     score > threshold,
		ExpectedValue: expected,
	}
}
