package algorithm

import (
	"math"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// esdAlpha is the significance level for the extreme studentized deviate
// test.
const esdAlpha = 0.05

// minCohortSamples is the smallest hour-of-day cohort usable as a
// seasonal baseline; thinner cohorts fall back to the flat mean.
const minCohortSamples = 2

// SeasonalESD applies a generalized extreme studentized deviate test to
// residuals. With contextual mode on, residuals are taken against an
// hour-of-day cohort baseline; otherwise (or when history is too thin for
// cohorts) against the flat window mean.
type SeasonalESD struct{}

func (e *SeasonalESD) Name() models.Algorithm { return models.AlgorithmSeasonalESD }

// seasonalExpected returns the mean of window samples sharing the
// candidate's hour-of-day. Returns false when the cohort is too thin or
// the window covers a single cohort (no seasonal structure to exploit).
func seasonalExpected(window []models.Sample, candidate models.Sample) (float64, bool) {
	hour := candidate.Timestamp.Hour()
	cohorts := make(map[int]int, 24)
	var sum float64
	var count int
	for _, s := range window {
		h := s.Timestamp.Hour()
		cohorts[h]++
		if h == hour {
			sum += s.Value
			count++
		}
	}
	if count < minCohortSamples || len(cohorts) < 2 {
		return 0, false
	}
	return sum / float64(count), true
}

// seasonalResiduals subtracts each sample's cohort mean. Falls back to
// flat-mean residuals when any structure is missing.
func seasonalResiduals(window []models.Sample) ([]float64, bool) {
	sums := make(map[int]float64, 24)
	counts := make(map[int]int, 24)
	for _, s := range window {
		h := s.Timestamp.Hour()
		sums[h] += s.Value
		counts[h]++
	}
	if len(counts) < 2 {
		return nil, false
	}
	for _, c := range counts {
		if c < minCohortSamples {
			return nil, false
		}
	}
	residuals := make([]float64, len(window))
	for i, s := range window {
		h := s.Timestamp.Hour()
		residuals[i] = s.Value - sums[h]/float64(counts[h])
	}
	return residuals, true
}

func (e *SeasonalESD) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	threshold := EffectiveThreshold(cfg)
	if res, short := guard(window, candidate, cfg, threshold); short {
		return res
	}

	vals := values(window)
	expected := mean(vals)
	var residuals []float64
	seasonal := false

	if cfg.EnableContextual {
		if r, ok := seasonalResiduals(window); ok {
			residuals = r
			seasonal = true
			if se, ok := seasonalExpected(window, candidate); ok {
				expected = se
			}
		}
	}
	if !seasonal {
		residuals = make([]float64, len(vals))
		for i, v := range vals {
			residuals[i] = v - expected
		}
	}

	candidateResidual := candidate.Value - expected

	// Robust studentization of the candidate residual, MAD-scaled as in
	// the S-H-ESD formulation.
	med := median(residuals)
	deviation := mad(residuals, med) * 1.4826
	if deviation == 0 {
		sd := stdDev(residuals)
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
		deviation = sd
	}

	z := math.Abs(candidateResidual-med) / deviation

	// The ESD critical value bounds the test; sensitivity scales it so
	// low sensitivity demands a wider margin past the critical value.
	lambda := grubbsCriticalValue(len(residuals)+1, esdAlpha)
	cutoff := lambda * threshold / 3.0

	return ScoreResult{
		Score:         z,
		Normalized:    z / cutoff,
		Threshold:     cutoff,
		IsAnomaly:     z > cutoff,
		ExpectedValue: expected,
	}
}

// grubbsCriticalValue is the ESD critical value for n observations at
// significance alpha.
func grubbsCriticalValue(n int, alpha float64) float64 {
	if n < 3 {
		return math.Inf(1)
	}
	t := inverseTCDF(1-alpha/(2*float64(n)), n-2)
	return float64(n-1) / math.Sqrt(float64(n)) * math.Sqrt(t*t/(float64(n-2)+t*t))
}

// inverseTCDF inverts the t CDF by bisection.
func inverseTCDF(p float64, df int) float64 {
	if p <= 0 {
		return -8
	}
	if p >= 1 {
		return 8
	}
	low, high := -8.0, 8.0
	for i := 0; i < 100; i++ {
		mid := (low + high) / 2
		if tCDF(mid, df) < p {
			low = mid
		} else {
			high = mid
		}
	}
	return (low + high) / 2
}

// tCDF approximates the Student's t CDF via the normal CDF with a
// Cornish-Fisher style correction; adequate for the df ranges a
// detection window produces.
func tCDF(x float64, df int) float64 {
	if df <= 0 {
		return 0.5 + 0.5*math.Erf(x/math.Sqrt2)
	}
	if df > 100 {
		return 0.5 + 0.5*math.Erf(x/math.Sqrt2)
	}
	// Hill's adjustment: map t to an approximately normal deviate.
	d := float64(df)
	a := d - 0.5
	b := 48 * a * a
	w := math.Sqrt(a*math.Log(1+x*x/d))
	z := w + (w*w*w+3*w)/b
	if x < 0 {
		z = -z
	}
	return 0.5 + 0.5*math.Erf(z/math.Sqrt2)
}
