package detection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func TestRegistry_CreateAndProcess(t *testing.T) {
	r := NewRegistry()

	id, err := r.Create("cpu", models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	samples := series(append(noisySeries(15, 50), 500)...)
	var got *models.Anomaly
	for _, s := range samples {
		a, err := r.Process(id, s)
		require.NoError(t, err)
		if a != nil {
			got = a
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "cpu", got.MetricName)
	assert.Equal(t, 500.0, got.Value)
}

func TestRegistry_UnknownDetector(t *testing.T) {
	r := NewRegistry()
	_, err := r.Process("no-such-id", models.Sample{Value: 1})
	assert.ErrorIs(t, err, ErrUnknownDetector)

	_, err = r.ProcessMetric("no-such-metric", models.Sample{Value: 1})
	assert.ErrorIs(t, err, ErrUnknownDetector)

	_, err = r.Get("no-such-id")
	assert.ErrorIs(t, err, ErrUnknownDetector)

	assert.ErrorIs(t, r.Dispose("no-such-id"), ErrUnknownDetector)
}

func TestRegistry_LastCreateWins(t *testing.T) {
	r := NewRegistry()

	first, err := r.Create("cpu", models.DetectionConfig{Sensitivity: models.SensitivityLow})
	require.NoError(t, err)
	second, err := r.Create("cpu", models.DetectionConfig{Sensitivity: models.SensitivityCritical})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// The metric resolves to the replacement.
	id, ok := r.Lookup("cpu")
	require.True(t, ok)
	assert.Equal(t, second, id)

	// The replaced detector's id stops being addressable.
	_, err = r.Process(first, models.Sample{Value: 1})
	assert.ErrorIs(t, err, ErrUnknownDetector)

	d, err := r.Get(second)
	require.NoError(t, err)
	assert.Equal(t, models.SensitivityCritical, d.Info().Config.Sensitivity)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("", models.DetectionConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Create("cpu", models.DetectionConfig{WindowSize: 5, MinSamples: 50})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, r.Len(), "failed creation must not register anything")
}

func TestRegistry_DisposeRemoves(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create("memory", models.DetectionConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Dispose(id))

	_, err = r.Process(id, models.Sample{Value: 1})
	assert.ErrorIs(t, err, ErrUnknownDetector)
	_, ok := r.Lookup("memory")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("cpu", models.DetectionConfig{})
	require.NoError(t, err)
	_, err = r.Create("memory", models.DetectionConfig{})
	require.NoError(t, err)

	infos := r.List()
	require.Len(t, infos, 2)
	names := map[string]bool{}
	for _, info := range infos {
		names[info.MetricName] = true
		assert.Equal(t, models.DetectorWarming, info.State)
	}
	assert.True(t, names["cpu"] && names["memory"])
}

func TestRegistry_ConcurrentMetrics(t *testing.T) {
	r := NewRegistry()
	metrics := []string{"cpu", "memory", "disk", "network"}
	ids := make([]string, len(metrics))
	for i, m := range metrics {
		id, err := r.Create(m, models.DetectionConfig{
			Algorithm:   models.AlgorithmZScore,
			Sensitivity: models.SensitivityMedium,
			WindowSize:  30,
			MinSamples:  5,
		})
		require.NoError(t, err)
		ids[i] = id
	}

	samples := series(noisySeries(200, 50)...)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for _, s := range samples {
				if _, err := r.Process(id, s); err != nil {
					t.Error(err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		d, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 30, d.Info().Samples)
	}
}
