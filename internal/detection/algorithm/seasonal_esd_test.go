package algorithm

import (
	"math"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func TestSeasonalESD_FlagsSpikeWithoutSeasonality(t *testing.T) {
	w := mkWindow(50, 50.5, 49.5, 50.2, 49.8, 50.1, 49.9, 50.3, 49.7, 50)
	cfg := mediumCfg(models.AlgorithmSeasonalESD)

	res := (&SeasonalESD{}).Score(w, mkCandidate(w, 500), cfg)
	if !res.IsAnomaly {
		t.Fatalf("expected spike flagged, z=%f cutoff=%f", res.Score, res.Threshold)
	}

	normal := (&SeasonalESD{}).Score(w, mkCandidate(w, 50.4), cfg)
	if normal.IsAnomaly {
		t.Errorf("in-noise point flagged, z=%f", normal.Score)
	}
}

func TestSeasonalESD_DegenerateWindow(t *testing.T) {
	w := mkWindow(5, 5, 5, 5, 5, 5, 5, 5)
	cfg := mediumCfg(models.AlgorithmSeasonalESD)

	res := (&SeasonalESD{}).Score(w, mkCandidate(w, 999), cfg)
	if res.IsAnomaly || res.Reason != ReasonDegenerateWindow {
		t.Errorf("identical window must short-circuit, got %+v", res)
	}
}

// twoCohortWindow builds samples alternating between a 10:00 cohort near
// lowLevel and an 11:00 cohort near highLevel.
func twoCohortWindow(lowLevel, highLevel float64) []models.Sample {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var out []models.Sample
	jitter := []float64{-0.2, -0.1, 0, 0.1, 0.2, 0}
	for d := 0; d < 6; d++ {
		base := day.AddDate(0, 0, d)
		out = append(out,
			models.Sample{Timestamp: base.Add(10 * time.Hour), Value: lowLevel + jitter[d]},
			models.Sample{Timestamp: base.Add(11 * time.Hour), Value: highLevel + jitter[d]},
		)
	}
	return out
}

func TestSeasonalESD_ContextualBaseline(t *testing.T) {
	w := twoCohortWindow(10, 20)
	candidate := models.Sample{
		Timestamp: time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC),
		Value:     28,
	}

	cfg := mediumCfg(models.AlgorithmSeasonalESD)
	cfg.EnableContextual = true

	res := (&SeasonalESD{}).Score(w, candidate, cfg)
	if !res.IsAnomaly {
		t.Fatalf("cohort-relative spike should be flagged contextually, z=%f cutoff=%f", res.Score, res.Threshold)
	}
	if math.Abs(res.ExpectedValue-20) > 0.5 {
		t.Errorf("contextual expected value should track the 11:00 cohort (~20), got %f", res.ExpectedValue)
	}

	// The flat baseline dilutes the same deviation below the cutoff.
	cfg.EnableContextual = false
	flat := (&SeasonalESD{}).Score(w, candidate, cfg)
	if flat.IsAnomaly {
		t.Errorf("flat baseline should miss the cohort-relative spike, z=%f cutoff=%f", flat.Score, flat.Threshold)
	}
}

func TestSeasonalESD_ContextualFallsBackOnThinCohorts(t *testing.T) {
	// Single-hour window: no seasonal structure, must fall back to the
	// flat mean rather than refuse to score.
	w := mkWindow(50, 50.5, 49.5, 50.2, 49.8, 50.1, 49.9, 50.3)
	cfg := mediumCfg(models.AlgorithmSeasonalESD)
	cfg.EnableContextual = true

	res := (&SeasonalESD{}).Score(w, mkCandidate(w, 500), cfg)
	if !res.IsAnomaly {
		t.Errorf("fallback ESD should still flag the spike, z=%f", res.Score)
	}
}

func TestGrubbsCriticalValue(t *testing.T) {
	// Reference magnitudes: the critical value grows slowly with n and
	// stays in the low single digits for detection-window sizes.
	for _, n := range []int{10, 30, 100} {
		lambda := grubbsCriticalValue(n, 0.05)
		if lambda < 2 || lambda > 4.5 {
			t.Errorf("grubbsCriticalValue(%d) = %f outside plausible range", n, lambda)
		}
	}
	if !math.IsInf(grubbsCriticalValue(2, 0.05), 1) {
		t.Error("critical value undefined below n=3 must be +Inf")
	}
}

func TestInverseTCDF_Symmetry(t *testing.T) {
	q := inverseTCDF(0.975, 20)
	if q < 1.9 || q > 2.2 {
		t.Errorf("t(0.975, 20) = %f, want near 2.09", q)
	}
	neg := inverseTCDF(0.025, 20)
	if math.Abs(q+neg) > 0.05 {
		t.Errorf("quantiles not symmetric: %f vs %f", q, neg)
	}
}
