package detection

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/internal/metrics"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func TestStreamingDetector_WarmingReturnsNil(t *testing.T) {
	d, err := NewStreamingDetector("cpu", models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityCritical,
		WindowSize:  50,
		MinSamples:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DetectorWarming, d.Info().State)

	for _, s := range series(10, 11, 9, 10, 5000, 10, 11, 9, 10) {
		a, err := d.Process(s)
		require.NoError(t, err)
		assert.Nil(t, a, "warming detector must never emit")
	}
	assert.Equal(t, models.DetectorWarming, d.Info().State)
}

func TestStreamingDetector_ActivatesAndFlags(t *testing.T) {
	d, err := NewStreamingDetector("cpu", models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  10,
	})
	require.NoError(t, err)

	samples := series(append(noisySeries(20, 50), 500)...)
	var emitted []*models.Anomaly
	for _, s := range samples {
		a, err := d.Process(s)
		require.NoError(t, err)
		if a != nil {
			emitted = append(emitted, a)
		}
	}

	require.Len(t, emitted, 1)
	assert.Equal(t, 500.0, emitted[0].Value)
	assert.Equal(t, samples[20].Timestamp, emitted[0].Timestamp)
	assert.Equal(t, models.DetectorActive, d.Info().State)
	assert.Equal(t, 21, d.Info().Samples)
}

func TestStreamingDetector_MatchesBatch(t *testing.T) {
	vals := noisySeries(120, 50)
	vals[40] = 90
	vals[75] = 12
	vals[110] = 200
	samples := series(vals...)

	cfg := models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  20,
	}

	batch, err := DetectAnomalies("svc_latency", samples, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, batch.Anomalies)

	d, err := NewStreamingDetector("svc_latency", cfg)
	require.NoError(t, err)
	var streamed []*models.Anomaly
	for _, s := range samples {
		a, err := d.Process(s)
		require.NoError(t, err)
		if a != nil {
			streamed = append(streamed, a)
		}
	}

	require.Len(t, streamed, len(batch.Anomalies))
	for i, a := range streamed {
		assert.Equal(t, batch.Anomalies[i].Timestamp, a.Timestamp)
		assert.Equal(t, batch.Anomalies[i].Severity, a.Severity)
		assert.InDelta(t, batch.Anomalies[i].Score, a.Score, 1e-9)
	}
}

func TestStreamingDetector_CollectiveEmitsOncePerRun(t *testing.T) {
	d, err := NewStreamingDetector("queue_depth", models.DetectionConfig{
		Algorithm:        models.AlgorithmZScore,
		Sensitivity:      models.SensitivityHigh,
		WindowSize:       50,
		MinSamples:       10,
		EnableCollective: true,
	})
	require.NoError(t, err)

	vals := make([]float64, 120)
	for i := range vals {
		vals[i] = 10 + 90*float64(i)/199
	}
	var emitted []*models.Anomaly
	for _, s := range series(vals...) {
		a, err := d.Process(s)
		require.NoError(t, err)
		if a != nil {
			emitted = append(emitted, a)
		}
	}

	require.Len(t, emitted, 1, "an unbroken borderline run must emit exactly once")
	assert.Equal(t, "true", emitted[0].Metadata["collective"])
}

func TestStreamingDetector_Dispose(t *testing.T) {
	d, err := NewStreamingDetector("cpu", models.DetectionConfig{})
	require.NoError(t, err)

	d.Dispose()
	d.Dispose() // idempotent

	_, err = d.Process(models.Sample{Value: 1})
	assert.ErrorIs(t, err, ErrDetectorDisposed)
	assert.Equal(t, models.DetectorDisposed, d.Info().State)
}

func TestRunningStats_MatchesDirectComputation(t *testing.T) {
	vals := []float64{4, 8, 15, 16, 23, 42, 8, 4, 99, 15}
	var s runningStats

	// Simulate a window of capacity 4: add each value, remove the one
	// falling out.
	const capacity = 4
	for i, v := range vals {
		if i >= capacity {
			s.remove(vals[i-capacity])
		}
		s.add(v)

		start := i + 1 - capacity
		if start < 0 {
			start = 0
		}
		win := vals[start : i+1]
		var sum float64
		for _, w := range win {
			sum += w
		}
		wantMean := sum / float64(len(win))
		var m2 float64
		for _, w := range win {
			m2 += (w - wantMean) * (w - wantMean)
		}
		wantStd := math.Sqrt(m2 / float64(len(win)))

		assert.InDelta(t, wantMean, s.mean, 1e-9, "mean after %d points", i+1)
		assert.InDelta(t, wantStd, s.stdDev(), 1e-9, "stddev after %d points", i+1)
	}
}

func TestStreamingDetector_StatsTrackWindow(t *testing.T) {
	d, err := NewStreamingDetector("cpu", models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  5,
		MinSamples:  3,
	})
	require.NoError(t, err)

	for _, s := range series(1, 2, 3, 4, 5, 6, 7, 8) {
		_, err := d.Process(s)
		require.NoError(t, err)
	}

	// Window holds 4..8.
	mean, std, n := d.Stats()
	assert.Equal(t, 5, n)
	assert.InDelta(t, 6.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(2), std, 1e-9)
}

func TestStreamingDetector_ObservesScoringDuration(t *testing.T) {
	d, err := NewStreamingDetector("cpu", models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  10,
		MinSamples:  3,
	})
	require.NoError(t, err)

	for _, s := range series(10, 11, 9, 10, 11, 9) {
		_, err := d.Process(s)
		require.NoError(t, err)
	}

	count := testutil.CollectAndCount(metrics.DetectionDuration, "pulseboard_detection_duration_seconds")
	assert.GreaterOrEqual(t, count, 1, "active-state scoring must land in the duration histogram")
}
