package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package cache provides result caching for repeated batch analysis.
//
// Responsibilities:
//   - Cache batch detection results (avoid rescoring an unchanged series)
//   - Manage cache lifetime and invalidation
//   - Monitor cache hit/miss rates
//
// Cache Key Strategy:
//   - metric name + config + series fingerprint → hash
//   - The fingerprint covers series length, first/last timestamps and a
//     digest of the values, so appending a point misses the cache
//
// Invalidation Triggers:
//   - TTL expiration (automatic)
//   - LRU eviction when the cache exceeds its entry limit
//   - Manual invalidation (per metric or full clear)

// Stats holds cache counters.
type Stats struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Entries int `json:"entries"`
}

// ResultCache defines the interface for batch result caching.
type ResultCache interface {
	// Get retrieves a cached result by key.
	Get(ctx context.Context, key string) (*models.AnomalyDetectionResult, bool)

	// Set stores a result with the configured TTL.
	Set(ctx context.Context, key string, result *models.AnomalyDetectionResult)

	// InvalidateMetric removes all entries for one metric.
	InvalidateMetric(ctx context.Context, metricName string)

	// Clear removes all entries.
	Clear(ctx context.Context)

	// Stats returns cache statistics.
	Stats(ctx context.Context) Stats
}

type entry struct {
	key        string
	metricName string
	result     *models.AnomalyDetectionResult
	expiresAt  time.Time
}

type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	hits       int
	misses     int
}

// New creates a result cache with the given TTL and entry limit.
func New(ttl time.Duration, maxEntries int) ResultCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &resultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Key builds the cache key for one batch request.
func Key(metricName string, cfg models.DetectionConfig, samples []models.Sample) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|", metricName)
	cfgJSON, _ := json.Marshal(cfg)
	h.Write(cfgJSON)
	fmt.Fprintf(h, "|%d", len(samples))
	if len(samples) > 0 {
		fmt.Fprintf(h, "|%d|%d",
			samples[0].Timestamp.UnixNano(),
			samples[len(samples)-1].Timestamp.UnixNano())
	}
	for _, s := range samples {
		fmt.Fprintf(h, "|%x", s.Value)
	}
	return metricName + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *resultCache) Get(ctx context.Context, key string) (*models.AnomalyDetectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.result, true
}

func (c *resultCache) Set(ctx context.Context, key string, result *models.AnomalyDetectionResult) {
	metricName := key
	if i := len(key) - 33; i > 0 {
		metricName = key[:i]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.result = result
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{
		key:        key,
		metricName: metricName,
		result:     result,
		expiresAt:  time.Now().Add(c.ttl),
	})
	c.entries[key] = el

	for len(c.entries) > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
}

func (c *resultCache) InvalidateMetric(ctx context.Context, metricName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).metricName == metricName {
			c.removeLocked(el)
		}
		el = next
	}
}

func (c *resultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *resultCache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

func (c *resultCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
}
