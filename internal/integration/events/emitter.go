package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package events is the anomaly emission point. Detection produces
// anomaly records; this package fans them out to subscribers
// (notification routing, WebSocket broadcast, persistence) and keeps a
// short in-memory history for the API.
//
// Delivery is synchronous and best-effort: a slow subscriber slows the
// emitting caller, and subscriber panics are contained so one broken
// sink cannot take down ingestion.

// Subscriber receives every emitted anomaly.
type Subscriber func(ctx context.Context, anomaly models.Anomaly)

// Stats holds aggregate emission statistics.
type Stats struct {
	TotalEmitted  int            `json:"total_emitted"`
	BySeverity    map[string]int `json:"by_severity"`
	ByMetric      map[string]int `json:"by_metric"`
	LastEmittedAt time.Time      `json:"last_emitted_at"`
}

// Emitter defines the anomaly fan-out interface.
type Emitter interface {
	// Emit delivers the anomaly to all subscribers and records it.
	Emit(ctx context.Context, anomaly models.Anomaly)

	// Subscribe registers a subscriber and returns its id.
	Subscribe(fn Subscriber) int

	// Unsubscribe removes a subscriber.
	Unsubscribe(id int)

	// Recent returns up to limit recent anomalies, newest first,
	// optionally filtered by metric name.
	Recent(metricName string, limit int) []models.Anomaly

	// Stats returns aggregate emission statistics.
	Stats() Stats
}

const defaultRingSize = 1000

type ringBuffer struct {
	mu    sync.RWMutex
	items []models.Anomaly
	head  int // index of next write position
	size  int // current fill level
	cap   int // total capacity
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		items: make([]models.Anomaly, capacity),
		cap:   capacity,
	}
}

func (rb *ringBuffer) Push(a models.Anomaly) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.items[rb.head] = a
	rb.head = (rb.head + 1) % rb.cap
	if rb.size < rb.cap {
		rb.size++
	}
}

// Snapshot returns all anomalies in insertion order (oldest first).
func (rb *ringBuffer) Snapshot() []models.Anomaly {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	result := make([]models.Anomaly, 0, rb.size)
	if rb.size < rb.cap {
		for i := 0; i < rb.size; i++ {
			result = append(result, rb.items[i])
		}
	} else {
		// Buffer has wrapped: oldest element is at rb.head.
		for i := 0; i < rb.cap; i++ {
			result = append(result, rb.items[(rb.head+i)%rb.cap])
		}
	}
	return result
}

type emitterImpl struct {
	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int

	ring *ringBuffer

	totalEmitted int
	bySeverity   map[string]int
	byMetric     map[string]int
	lastEmitted  time.Time

	logger *zap.Logger
}

// NewEmitter creates an emitter with defaults.
func NewEmitter(logger *zap.Logger) Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emitterImpl{
		subscribers: make(map[int]Subscriber),
		ring:        newRingBuffer(defaultRingSize),
		bySeverity:  make(map[string]int),
		byMetric:    make(map[string]int),
		logger:      logger,
	}
}

func (e *emitterImpl) Emit(ctx context.Context, anomaly models.Anomaly) {
	e.ring.Push(anomaly)

	e.mu.Lock()
	e.totalEmitted++
	e.bySeverity[string(anomaly.Severity)]++
	e.byMetric[anomaly.MetricName]++
	e.lastEmitted = time.Now().UTC()
	subs := make([]Subscriber, 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		e.deliver(ctx, fn, anomaly)
	}
}

// deliver invokes one subscriber, containing panics.
func (e *emitterImpl) deliver(ctx context.Context, fn Subscriber, anomaly models.Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("anomaly subscriber panicked",
				zap.Any("panic", r),
				zap.String("anomaly_id", anomaly.ID),
				zap.String("metric", anomaly.MetricName),
			)
		}
	}()
	fn(ctx, anomaly)
}

func (e *emitterImpl) Subscribe(fn Subscriber) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.subscribers[e.nextID] = fn
	return e.nextID
}

func (e *emitterImpl) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
}

func (e *emitterImpl) Recent(metricName string, limit int) []models.Anomaly {
	all := e.ring.Snapshot()
	if limit <= 0 {
		limit = len(all)
	}
	result := make([]models.Anomaly, 0, limit)
	// Iterate newest-first.
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if metricName != "" && all[i].MetricName != metricName {
			continue
		}
		result = append(result, all[i])
	}
	return result
}

func (e *emitterImpl) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bySeverity := make(map[string]int, len(e.bySeverity))
	for k, v := range e.bySeverity {
		bySeverity[k] = v
	}
	byMetric := make(map[string]int, len(e.byMetric))
	for k, v := range e.byMetric {
		byMetric[k] = v
	}

	return Stats{
		TotalEmitted:  e.totalEmitted,
		BySeverity:    bySeverity,
		ByMetric:      byMetric,
		LastEmittedAt: e.lastEmitted,
	}
}
