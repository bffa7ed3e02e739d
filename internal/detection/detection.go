package detection

import (
	"errors"
	"fmt"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package detection is the anomaly detection engine: one-shot batch
// analysis over a historical series, and stateful streaming detectors
// managed by a registry.
//
// Responsibilities:
//   - Validate detection configs and fail fast on bad ones
//   - Slide a lookback window over batch series and collect anomalies
//   - Maintain per-metric streaming detectors with O(1) running stats
//   - Promote runs of borderline points to collective anomalies
//
// Error taxonomy: configuration problems surface as ErrInvalidConfig at
// entry points, unknown detector ids as ErrUnknownDetector. Data
// sufficiency and degenerate statistics never surface as errors; they
// flow through the normal verdict channel (see the algorithm package).

var (
	// ErrInvalidConfig rejects a config at the entry point rather than
	// silently coercing it.
	ErrInvalidConfig = errors.New("invalid detection config")

	// ErrUnknownDetector marks a streaming call addressed to an id the
	// registry does not hold.
	ErrUnknownDetector = errors.New("unknown detector")

	// ErrDetectorDisposed marks a point handed to a detector after its
	// owner disposed it.
	ErrDetectorDisposed = errors.New("detector disposed")
)

// Config defaults applied to zero-valued fields before validation.
const (
	DefaultWindowSize = 50
	DefaultMinSamples = 10
)

// withDefaults fills zero-valued fields. Explicitly set fields are never
// touched, so a genuinely bad value still fails validation.
func withDefaults(cfg models.DetectionConfig) models.DetectionConfig {
	if cfg.Algorithm == "" {
		cfg.Algorithm = models.AlgorithmZScore
	}
	if cfg.Sensitivity == "" {
		cfg.Sensitivity = models.SensitivityMedium
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return cfg
}

// ValidateConfig checks a fully populated config. Callers go through
// PrepareConfig, which applies defaults first.
func ValidateConfig(cfg models.DetectionConfig) error {
	switch cfg.Algorithm {
	case models.AlgorithmZScore, models.AlgorithmModifiedZScore, models.AlgorithmIQR,
		models.AlgorithmIsolationForest, models.AlgorithmSeasonalESD, models.AlgorithmEnsemble:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, cfg.Algorithm)
	}
	switch cfg.Sensitivity {
	case models.SensitivityLow, models.SensitivityMedium, models.SensitivityHigh, models.SensitivityCritical:
	default:
		return fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidConfig, cfg.Sensitivity)
	}
	if cfg.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidConfig, cfg.WindowSize)
	}
	if cfg.MinSamples < 0 {
		return fmt.Errorf("%w: min samples must be non-negative, got %d", ErrInvalidConfig, cfg.MinSamples)
	}
	if cfg.MinSamples > cfg.WindowSize {
		return fmt.Errorf("%w: min samples %d exceeds window size %d", ErrInvalidConfig, cfg.MinSamples, cfg.WindowSize)
	}
	if cfg.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative, got %f", ErrInvalidConfig, cfg.Threshold)
	}
	return nil
}

// PrepareConfig applies defaults and validates. Every entry point into
// the engine goes through this exactly once.
func PrepareConfig(cfg models.DetectionConfig) (models.DetectionConfig, error) {
	cfg = withDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return models.DetectionConfig{}, err
	}
	return cfg, nil
}
