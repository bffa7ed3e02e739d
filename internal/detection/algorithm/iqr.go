package algorithm

import (
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// IQR flags points outside the Tukey fences Q1-k*IQR and Q3+k*IQR. The
// fence multiplier k derives from the sensitivity threshold so that
// medium sensitivity gives the classic k=1.5.
type IQR struct{}

func (q *IQR) Name() models.Algorithm { return models.AlgorithmIQR }

func (q *IQR) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	threshold := EffectiveThreshold(cfg)
	if res, short := guard(window, candidate, cfg, threshold); short {
		return res
	}

	sorted := sortedCopy(values(window))
	q1 := quartile(sorted, 25)
	q3 := quartile(sorted, 75)
	iqr := q3 - q1
	expected := (q1 + q3) / 2

	if iqr == 0 {
		return ScoreResult{
			Score:         0,
			Normalized:    0,
			Threshold:     threshold,
			IsAnomaly:     false,
			ExpectedValue: expected,
			Reason:        ReasonDegenerateWindow,
		}
	}

	k := threshold / 2
	lower := q1 - k*iqr
	upper := q3 + k*iqr

	// Normalized position relative to the nearer fence: < 1 inside the
	// fences, 1 exactly on a fence, growing with the overshoot in IQR
	// units beyond it.
	var normalized float64
	v := candidate.Value
	switch {
	case v > upper:
		normalized = 1 + (v-upper)/iqr
	case v < lower:
		normalized = 1 + (lower-v)/iqr
	case v > q3:
		normalized = (v - q3) / (k * iqr)
	case v < q1:
		normalized = (q1 - v) / (k * iqr)
	default:
		normalized = 0
	}

	return ScoreResult{
		Score:         normalized,
		Normalized:    normalized,
		Threshold:     1,
		IsAnomaly:     v < lower || v > upper,
		ExpectedValue: expected,
	}
}
