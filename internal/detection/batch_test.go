package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func series(vals ...float64) []models.Sample {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Sample, len(vals))
	for i, v := range vals {
		out[i] = models.Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

// noisySeries produces n values around level with a deterministic
// small-amplitude cycle standing in for noise.
func noisySeries(n int, level float64) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = level + float64(i%3) - 1
	}
	return vals
}

func allAlgorithms() []models.Algorithm {
	return []models.Algorithm{
		models.AlgorithmZScore,
		models.AlgorithmModifiedZScore,
		models.AlgorithmIQR,
		models.AlgorithmIsolationForest,
		models.AlgorithmSeasonalESD,
		models.AlgorithmEnsemble,
	}
}

func TestDetectAnomalies_FlatSeries(t *testing.T) {
	vals := make([]float64, 50)
	for i := range vals {
		vals[i] = 10.0
	}
	samples := series(vals...)

	for _, algo := range allAlgorithms() {
		for _, sens := range []models.Sensitivity{
			models.SensitivityLow, models.SensitivityMedium,
			models.SensitivityHigh, models.SensitivityCritical,
		} {
			res, err := DetectAnomalies("flat_metric", samples, models.DetectionConfig{
				Algorithm:   algo,
				Sensitivity: sens,
				WindowSize:  20,
				MinSamples:  5,
			})
			require.NoError(t, err, "%s/%s", algo, sens)
			assert.Empty(t, res.Anomalies, "flat series must produce no anomalies (%s/%s)", algo, sens)
		}
	}
}

func TestDetectAnomalies_SingleSpike(t *testing.T) {
	vals := append(noisySeries(99, 50), 500)
	samples := series(vals...)

	res, err := DetectAnomalies("cpu_usage", samples, models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  20,
	})
	require.NoError(t, err)

	require.Len(t, res.Anomalies, 1, "exactly the spike must be flagged")
	a := res.Anomalies[0]
	assert.Equal(t, samples[99].Timestamp, a.Timestamp)
	assert.Equal(t, 500.0, a.Value)
	assert.Contains(t, []models.Severity{models.SeverityHigh, models.SeverityCritical}, a.Severity)
	assert.Equal(t, "cpu_usage", a.MetricName)
	assert.NotEmpty(t, a.Explanation)

	assert.Equal(t, 100, res.Summary.TotalPoints)
	assert.Equal(t, 1, res.Summary.AnomalyCount)
	assert.Equal(t, models.AlgorithmZScore, res.Summary.AlgorithmUsed)
}

func TestDetectAnomalies_GradualDriftCollective(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		vals[i] = 10 + 90*float64(i)/199
	}
	samples := series(vals...)

	res, err := DetectAnomalies("queue_depth", samples, models.DetectionConfig{
		Algorithm:        models.AlgorithmZScore,
		Sensitivity:      models.SensitivityHigh,
		WindowSize:       50,
		MinSamples:       10,
		EnableCollective: true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.Anomalies, "steady drift must surface collectively")
	assert.Less(t, len(res.Anomalies), 10, "drift must collapse into few anomalies, not one per point")

	foundCollective := false
	for _, a := range res.Anomalies {
		if a.Metadata["collective"] == "true" {
			foundCollective = true
			assert.NotEmpty(t, a.Metadata["collective_span"])
			assert.Contains(t, a.Explanation, "sustained drift")
		}
	}
	assert.True(t, foundCollective, "expected at least one collective anomaly")
}

func TestDetectAnomalies_CollectiveOffByDefault(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		vals[i] = 10 + 90*float64(i)/199
	}
	res, err := DetectAnomalies("queue_depth", series(vals...), models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityHigh,
		WindowSize:  50,
		MinSamples:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies, "borderline drift stays silent without collective mode")
}

func TestDetectAnomaliesWithTruth_Recovery(t *testing.T) {
	vals := append(noisySeries(99, 50), 500)
	samples := series(vals...)
	cfg := models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  20,
	}

	res, err := DetectAnomaliesWithTruth("cpu_usage", samples, cfg, []int{99})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Summary.Accuracy)

	missed, err := DetectAnomaliesWithTruth("cpu_usage", samples, cfg, []int{50, 99})
	require.NoError(t, err)
	assert.Equal(t, 0.5, missed.Summary.Accuracy)

	noTruth, err := DetectAnomalies("cpu_usage", samples, cfg)
	require.NoError(t, err)
	assert.Zero(t, noTruth.Summary.Accuracy)
}

func TestDetectAnomalies_InvalidConfig(t *testing.T) {
	samples := series(noisySeries(30, 50)...)

	cases := []struct {
		name string
		cfg  models.DetectionConfig
	}{
		{"unknown algorithm", models.DetectionConfig{Algorithm: "dbscan"}},
		{"unknown sensitivity", models.DetectionConfig{Sensitivity: "extreme"}},
		{"negative window", models.DetectionConfig{WindowSize: -5}},
		{"min exceeds window", models.DetectionConfig{WindowSize: 10, MinSamples: 20}},
		{"negative threshold", models.DetectionConfig{Threshold: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DetectAnomalies("m", samples, tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPrepareConfig_Defaults(t *testing.T) {
	cfg, err := PrepareConfig(models.DetectionConfig{})
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmZScore, cfg.Algorithm)
	assert.Equal(t, models.SensitivityMedium, cfg.Sensitivity)
	assert.Equal(t, DefaultWindowSize, cfg.WindowSize)
	assert.Equal(t, DefaultMinSamples, cfg.MinSamples)
}

func TestDetectAnomalies_ShortSeriesNeverFlags(t *testing.T) {
	samples := series(10, 11, 9, 1000)
	res, err := DetectAnomalies("m", samples, models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityCritical,
		WindowSize:  50,
		MinSamples:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies, "fewer than minSamples points must never yield an anomaly")
}
