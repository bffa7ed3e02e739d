package timeseries

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package timeseries provides in-memory sample storage and querying for
// metrics. It is the hot buffer behind the batch detection API: ingested
// samples accumulate here per metric and range queries feed the detection
// pipeline without the caller resending history on every request.
//
// Storage is a fixed-capacity ring buffer per metric (FIFO when full).
// Samples are expected in arrival order; queries return chronological
// order as stored.

// DefaultCapacity holds 24 hours of 15-second samples.
const DefaultCapacity = 5760

// TrendResult describes the direction of a metric over a query range.
type TrendResult struct {
	Direction   string  `json:"direction"` // increasing | decreasing | stable | unknown
	Slope       float64 `json:"slope"`
	RecentValue float64 `json:"recent_value"`
	DataPoints  int     `json:"data_points"`
}

// Store is the per-metric sample store interface.
type Store interface {
	// Append stores one sample for a metric.
	Append(ctx context.Context, metricName string, sample models.Sample) error

	// AppendBatch stores multiple samples for a metric.
	AppendBatch(ctx context.Context, metricName string, samples []models.Sample) error

	// Query returns samples in [from, to] in stored order. Zero bounds
	// are open ended.
	Query(ctx context.Context, metricName string, from, to time.Time) ([]models.Sample, error)

	// Latest returns up to n most recent samples in chronological order.
	Latest(ctx context.Context, metricName string, n int) ([]models.Sample, error)

	// Aggregate computes min, max, sum, avg, p50, p95 or p99 over a range.
	Aggregate(ctx context.Context, metricName string, from, to time.Time, kind string) (float64, error)

	// Trend fits a line through the range and reports its direction.
	Trend(ctx context.Context, metricName string, from, to time.Time) (TrendResult, error)

	// Metrics lists all metric names with stored samples, sorted.
	Metrics(ctx context.Context) []string

	// Len returns the number of stored samples for a metric.
	Len(ctx context.Context, metricName string) int

	// Drop removes all samples for a metric.
	Drop(ctx context.Context, metricName string)
}

type ring struct {
	data []models.Sample
	head int
	size int
	cap  int
}

func newRing(capacity int) *ring {
	return &ring{data: make([]models.Sample, capacity), cap: capacity}
}

func (r *ring) push(s models.Sample) {
	idx := (r.head + r.size) % r.cap
	r.data[idx] = s
	if r.size < r.cap {
		r.size++
	} else {
		r.head = (r.head + 1) % r.cap
	}
}

// slice returns all samples in insertion order.
func (r *ring) slice() []models.Sample {
	out := make([]models.Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(r.head+i)%r.cap]
	}
	return out
}

type memoryStore struct {
	mu       sync.RWMutex
	series   map[string]*ring
	capacity int
}

// NewStore creates an in-memory store. capacity <= 0 uses DefaultCapacity.
func NewStore(capacity int) Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &memoryStore{
		series:   make(map[string]*ring),
		capacity: capacity,
	}
}

func (s *memoryStore) Append(ctx context.Context, metricName string, sample models.Sample) error {
	if metricName == "" {
		return fmt.Errorf("metric name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(metricName).push(sample)
	return nil
}

func (s *memoryStore) AppendBatch(ctx context.Context, metricName string, samples []models.Sample) error {
	if metricName == "" {
		return fmt.Errorf("metric name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrCreate(metricName)
	for _, sm := range samples {
		r.push(sm)
	}
	return nil
}

func (s *memoryStore) getOrCreate(metricName string) *ring {
	if r, ok := s.series[metricName]; ok {
		return r
	}
	r := newRing(s.capacity)
	s.series[metricName] = r
	return r
}

func (s *memoryStore) Query(ctx context.Context, metricName string, from, to time.Time) ([]models.Sample, error) {
	s.mu.RLock()
	r, ok := s.series[metricName]
	var all []models.Sample
	if ok {
		all = r.slice()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no data for metric %q", metricName)
	}

	result := make([]models.Sample, 0, len(all))
	for _, p := range all {
		if !from.IsZero() && p.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && p.Timestamp.After(to) {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *memoryStore) Latest(ctx context.Context, metricName string, n int) ([]models.Sample, error) {
	all, err := s.Query(ctx, metricName, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (s *memoryStore) Aggregate(ctx context.Context, metricName string, from, to time.Time, kind string) (float64, error) {
	samples, err := s.Query(ctx, metricName, from, to)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("no data in range for metric %q", metricName)
	}
	values := make([]float64, len(samples))
	for i, p := range samples {
		values[i] = p.Value
	}
	return aggregate(values, kind)
}

func (s *memoryStore) Trend(ctx context.Context, metricName string, from, to time.Time) (TrendResult, error) {
	samples, err := s.Query(ctx, metricName, from, to)
	if err != nil {
		return TrendResult{}, err
	}
	if len(samples) < 2 {
		return TrendResult{Direction: "unknown", DataPoints: len(samples)}, nil
	}

	slope := regressionSlope(samples)
	direction := "stable"
	if slope > 0.01 {
		direction = "increasing"
	} else if slope < -0.01 {
		direction = "decreasing"
	}
	return TrendResult{
		Direction:   direction,
		Slope:       slope,
		RecentValue: samples[len(samples)-1].Value,
		DataPoints:  len(samples),
	}, nil
}

func (s *memoryStore) Metrics(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *memoryStore) Len(ctx context.Context, metricName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.series[metricName]; ok {
		return r.size
	}
	return 0
}

func (s *memoryStore) Drop(ctx context.Context, metricName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, metricName)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func aggregate(values []float64, kind string) (float64, error) {
	switch kind {
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case "sum":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "avg", "mean":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "p50":
		return percentile(values, 50), nil
	case "p95":
		return percentile(values, 95), nil
	case "p99":
		return percentile(values, 99), nil
	default:
		return 0, fmt.Errorf("unknown aggregation %q", kind)
	}
}

func percentile(values []float64, p int) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func regressionSlope(samples []models.Sample) float64 {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumX2 float64
	for i, p := range samples {
		x := float64(i)
		y := p.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
