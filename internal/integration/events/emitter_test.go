package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func anomaly(metric string, severity models.Severity) models.Anomaly {
	return models.Anomaly{
		ID:         fmt.Sprintf("%s-%d", metric, time.Now().UnixNano()),
		MetricName: metric,
		Timestamp:  time.Now().UTC(),
		Severity:   severity,
	}
}

func TestEmitDeliversToSubscribers(t *testing.T) {
	e := NewEmitter(nil)

	var got []models.Anomaly
	e.Subscribe(func(ctx context.Context, a models.Anomaly) {
		got = append(got, a)
	})

	a := anomaly("cpu", models.SeverityHigh)
	e.Emit(context.Background(), a)

	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	id := e.Subscribe(func(ctx context.Context, a models.Anomaly) { count++ })

	e.Emit(context.Background(), anomaly("cpu", models.SeverityLow))
	e.Unsubscribe(id)
	e.Emit(context.Background(), anomaly("cpu", models.SeverityLow))

	assert.Equal(t, 1, count)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	e := NewEmitter(nil)

	e.Subscribe(func(ctx context.Context, a models.Anomaly) {
		panic("broken sink")
	})
	healthy := 0
	e.Subscribe(func(ctx context.Context, a models.Anomaly) { healthy++ })

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), anomaly("cpu", models.SeverityMedium))
	})
	assert.Equal(t, 1, healthy, "healthy subscribers still receive after a panic")
}

func TestRecentNewestFirstWithFilter(t *testing.T) {
	e := NewEmitter(nil)
	ctx := context.Background()

	e.Emit(ctx, models.Anomaly{ID: "1", MetricName: "cpu"})
	e.Emit(ctx, models.Anomaly{ID: "2", MetricName: "memory"})
	e.Emit(ctx, models.Anomaly{ID: "3", MetricName: "cpu"})

	all := e.Recent("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID, "newest first")

	cpu := e.Recent("cpu", 10)
	require.Len(t, cpu, 2)
	assert.Equal(t, "3", cpu[0].ID)
	assert.Equal(t, "1", cpu[1].ID)

	limited := e.Recent("", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "3", limited[0].ID)
}

func TestRingWrapKeepsNewest(t *testing.T) {
	e := NewEmitter(nil).(*emitterImpl)
	e.ring = newRingBuffer(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e.Emit(ctx, models.Anomaly{ID: fmt.Sprintf("%d", i), MetricName: "cpu"})
	}

	recent := e.Recent("", 10)
	require.Len(t, recent, 3)
	assert.Equal(t, "5", recent[0].ID)
	assert.Equal(t, "3", recent[2].ID)
}

func TestStatsAggregation(t *testing.T) {
	e := NewEmitter(nil)
	ctx := context.Background()

	e.Emit(ctx, anomaly("cpu", models.SeverityHigh))
	e.Emit(ctx, anomaly("cpu", models.SeverityLow))
	e.Emit(ctx, anomaly("memory", models.SeverityHigh))

	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalEmitted)
	assert.Equal(t, 2, stats.BySeverity["high"])
	assert.Equal(t, 1, stats.BySeverity["low"])
	assert.Equal(t, 2, stats.ByMetric["cpu"])
	assert.False(t, stats.LastEmittedAt.IsZero())
}
