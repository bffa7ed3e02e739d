package window

import "github.com/pulseboard/pulseboard-engine/pkg/models"

// Package window provides the bounded per-metric sample buffer every
// detection algorithm reads from. Samples are kept in arrival order;
// pushing beyond capacity evicts the oldest sample. Callers are expected
// to feed strictly increasing timestamps per metric; out-of-order
// arrivals are accepted as-is but degrade scoring quality.

// Buffer is a fixed-capacity circular buffer of samples.
type Buffer struct {
	data     []models.Sample
	head     int
	size     int
	capacity int
}

// New creates a buffer holding at most capacity samples.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data:     make([]models.Sample, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest when full. O(1).
func (b *Buffer) Push(s models.Sample) {
	idx := (b.head + b.size) % b.capacity
	b.data[idx] = s
	if b.size < b.capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
}

// Samples returns all buffered samples in arrival order.
func (b *Buffer) Samples() []models.Sample {
	out := make([]models.Sample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.head+i)%b.capacity]
	}
	return out
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Oldest returns the sample that would be evicted next. The second return
// is false when the buffer is empty.
func (b *Buffer) Oldest() (models.Sample, bool) {
	if b.size == 0 {
		return models.Sample{}, false
	}
	return b.data[b.head], true
}
