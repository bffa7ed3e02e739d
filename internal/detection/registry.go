package detection

import (
	"fmt"
	"sync"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Registry owns the live streaming detectors, keyed by id and by metric
// name. It is an explicit service object rather than package-level
// state, so hosts can hold several isolated registries and tests never
// share detectors.
//
// The registry lock guards only the maps. Point processing runs under
// the detector's own lock, so metrics never serialize behind each
// other.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*StreamingDetector
	byMetric map[string]*StreamingDetector
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*StreamingDetector),
		byMetric: make(map[string]*StreamingDetector),
	}
}

// Create allocates a streaming detector for the metric and returns its
// id. A metric that already has a live detector gets a replacement: the
// prior detector is disposed and its id stops resolving. Last create
// wins.
func (r *Registry) Create(metricName string, cfg models.DetectionConfig) (string, error) {
	if metricName == "" {
		return "", fmt.Errorf("%w: empty metric name", ErrInvalidConfig)
	}
	d, err := NewStreamingDetector(metricName, cfg)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if prev, ok := r.byMetric[metricName]; ok {
		delete(r.byID, prev.ID())
		defer prev.Dispose()
	}
	r.byID[d.ID()] = d
	r.byMetric[metricName] = d
	r.mu.Unlock()

	return d.ID(), nil
}

// Process routes one point to the detector with the given id.
func (r *Registry) Process(id string, sample models.Sample) (*models.Anomaly, error) {
	r.mu.RLock()
	d, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}
	return d.Process(sample)
}

// ProcessMetric routes one point by metric name instead of id, for
// ingestion paths that do not track detector ids.
func (r *Registry) ProcessMetric(metricName string, sample models.Sample) (*models.Anomaly, error) {
	r.mu.RLock()
	d, ok := r.byMetric[metricName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no detector for metric %q", ErrUnknownDetector, metricName)
	}
	return d.Process(sample)
}

// Get returns the detector with the given id.
func (r *Registry) Get(id string) (*StreamingDetector, error) {
	r.mu.RLock()
	d, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}
	return d, nil
}

// Lookup resolves a metric name to its live detector id.
func (r *Registry) Lookup(metricName string) (string, bool) {
	r.mu.RLock()
	d, ok := r.byMetric[metricName]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return d.ID(), true
}

// Dispose retires the detector and removes it from the registry.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	d, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if cur, live := r.byMetric[d.MetricName()]; live && cur.ID() == id {
			delete(r.byMetric, d.MetricName())
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}
	d.Dispose()
	return nil
}

// List snapshots every live detector's state.
func (r *Registry) List() []models.DetectorInfo {
	r.mu.RLock()
	detectors := make([]*StreamingDetector, 0, len(r.byID))
	for _, d := range r.byID {
		detectors = append(detectors, d)
	}
	r.mu.RUnlock()

	infos := make([]models.DetectorInfo, 0, len(detectors))
	for _, d := range detectors {
		infos = append(infos, d.Info())
	}
	return infos
}

// Len returns the number of live detectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
