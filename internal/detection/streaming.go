package detection

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-engine/internal/detection/algorithm"
	"github.com/pulseboard/pulseboard-engine/internal/detection/severity"
	"github.com/pulseboard/pulseboard-engine/internal/detection/window"
	"github.com/pulseboard/pulseboard-engine/internal/metrics"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// runningStats maintains mean and variance over the buffered window with
// Welford updates, so per-point processing never rescans the window.
type runningStats struct {
	n    int
	mean float64
	m2   float64
}

func (s *runningStats) add(x float64) {
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

// remove reverses an add for the evicted sample. The same update
// algebra run backwards; m2 is clamped at zero to absorb rounding.
func (s *runningStats) remove(x float64) {
	if s.n <= 1 {
		*s = runningStats{}
		return
	}
	oldMean := (float64(s.n)*s.mean - x) / float64(s.n-1)
	s.m2 -= (x - oldMean) * (x - s.mean)
	if s.m2 < 0 {
		s.m2 = 0
	}
	s.mean = oldMean
	s.n--
}

func (s *runningStats) stdDev() float64 {
	if s.n == 0 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.n))
}

// StreamingDetector evaluates one metric point-by-point. Each point is
// scored against the buffered window before being pushed into it, so a
// point never serves as its own statistical context and a streamed
// series produces the same verdicts as a batch run over it.
//
// Process is safe for concurrent use; distinct detectors never contend.
type StreamingDetector struct {
	id         string
	metricName string
	cfg        models.DetectionConfig
	createdAt  time.Time

	mu     sync.Mutex
	buf    *window.Buffer
	scorer algorithm.Scorer
	stats  runningStats
	state  models.DetectorState

	// Borderline-run tracking for collective mode.
	runLen        int
	runEmitted    bool
	runPeak       algorithm.ScoreResult
	runPeakSample models.Sample
}

// NewStreamingDetector validates the config and builds a detector in the
// warming state. Most callers go through Registry.Create instead.
func NewStreamingDetector(metricName string, cfg models.DetectionConfig) (*StreamingDetector, error) {
	cfg, err := PrepareConfig(cfg)
	if err != nil {
		return nil, err
	}
	scorer, err := algorithm.New(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &StreamingDetector{
		id:         uuid.NewString(),
		metricName: metricName,
		cfg:        cfg,
		createdAt:  time.Now().UTC(),
		buf:        window.New(cfg.WindowSize),
		scorer:     scorer,
		state:      models.DetectorWarming,
	}, nil
}

func (d *StreamingDetector) ID() string         { return d.id }
func (d *StreamingDetector) MetricName() string { return d.metricName }

// Process scores one point and absorbs it into the window. Returns a
// non-nil anomaly when the point (or the borderline run it completes)
// crosses the configured threshold; nil while warming or for ordinary
// points. Points must arrive in non-decreasing timestamp order.
func (d *StreamingDetector) Process(sample models.Sample) (*models.Anomaly, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == models.DetectorDisposed {
		return nil, ErrDetectorDisposed
	}

	var out *models.Anomaly
	if d.buf.Len() >= d.cfg.MinSamples {
		d.state = models.DetectorActive
		start := time.Now()
		res := d.scorer.Score(d.buf.Samples(), sample, d.cfg)
		metrics.DetectionDuration.WithLabelValues(string(d.cfg.Algorithm)).Observe(time.Since(start).Seconds())
		out = d.classify(sample, res)
	}

	if d.buf.Len() == d.buf.Cap() {
		if oldest, ok := d.buf.Oldest(); ok {
			d.stats.remove(oldest.Value)
		}
	}
	d.buf.Push(sample)
	d.stats.add(sample.Value)

	return out, nil
}

// classify turns a score into an emitted anomaly, tracking borderline
// runs for collective promotion. Caller holds the lock.
func (d *StreamingDetector) classify(sample models.Sample, res algorithm.ScoreResult) *models.Anomaly {
	if res.IsAnomaly {
		d.resetRun()
		a := severity.Build(d.metricName, sample, res, d.cfg.Algorithm)
		return &a
	}
	if !d.cfg.EnableCollective || !borderline(res) {
		d.resetRun()
		return nil
	}

	if d.runLen == 0 || res.Normalized > d.runPeak.Normalized {
		d.runPeak = res
		d.runPeakSample = sample
	}
	d.runLen++
	if d.runLen < minCollectiveRun || d.runEmitted {
		return nil
	}
	d.runEmitted = true
	a := buildCollective(d.metricName, d.runPeakSample, d.runPeak, d.cfg.Algorithm, d.runLen)
	return &a
}

func (d *StreamingDetector) resetRun() {
	d.runLen = 0
	d.runEmitted = false
}

// Dispose retires the detector. Subsequent Process calls fail with
// ErrDetectorDisposed. Idempotent.
func (d *StreamingDetector) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = models.DetectorDisposed
}

// Info snapshots the externally visible detector state.
func (d *StreamingDetector) Info() models.DetectorInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.DetectorInfo{
		ID:         d.id,
		MetricName: d.metricName,
		State:      d.state,
		Samples:    d.buf.Len(),
		Config:     d.cfg,
		CreatedAt:  d.createdAt,
	}
}

// Stats reports the incrementally maintained window statistics.
func (d *StreamingDetector) Stats() (mean, stdDev float64, samples int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.mean, d.stats.stdDev(), d.stats.n
}
