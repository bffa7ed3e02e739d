package algorithm

import (
	"fmt"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package algorithm implements the detection scoring strategies.
//
// Responsibilities:
//   - Score a candidate sample against a window of trailing samples
//   - Support multiple strategies (z-score, modified z-score, IQR,
//     isolation forest, seasonal ESD) plus an ensemble combining them
//   - Map sensitivity levels to per-strategy thresholds
//   - Absorb insufficient-data and zero-variance windows into defined,
//     non-anomalous verdicts instead of errors
//
// Philosophy: classical statistics, fully interpretable.
//   - No training data required beyond the window itself
//   - Deterministic and reproducible (the isolation forest is seeded)
//   - Fast enough for per-point streaming evaluation
//
// Each strategy is pure: Score never mutates the window and holds no state
// between calls. Stateful concerns (windowing, running stats, lifecycle)
// live in the detection package.

// ReasonInsufficientData marks verdicts produced before MinSamples points
// were available. Callers use it to distinguish "not anomalous" from
// "cannot judge yet".
const ReasonInsufficientData = "insufficient data"

// ReasonDegenerateWindow marks verdicts from zero-variance windows, which
// variance-based strategies cannot flag.
const ReasonDegenerateWindow = "zero variance in window"

// ScoreResult is the verdict of a single strategy for one candidate point.
type ScoreResult struct {
	// Score is the raw strategy-specific deviation magnitude.
	Score float64

	// Normalized is Score divided by the effective threshold; values >= 1
	// are anomalous. Severity tiers and collective promotion work on this
	// ratio so strategies with different score scales stay comparable.
	Normalized float64

	// Threshold is the effective cutoff the strategy compared against.
	Threshold float64

	IsAnomaly     bool
	ExpectedValue float64

	// Reason is empty for ordinary verdicts and carries a sentinel for
	// insufficient-data and degenerate-window short circuits.
	Reason string

	// Contributors records per-strategy verdicts when the ensemble
	// produced this result; nil otherwise.
	Contributors map[string]bool
}

// Scorer is the strategy interface every detection algorithm implements.
type Scorer interface {
	// Name returns the algorithm identifier.
	Name() models.Algorithm

	// Score evaluates candidate against the window. The window holds the
	// trailing samples in arrival order and never includes the candidate.
	Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult
}

// New returns the scorer for the configured algorithm.
func New(algo models.Algorithm) (Scorer, error) {
	switch algo {
	case models.AlgorithmZScore:
		return &ZScore{}, nil
	case models.AlgorithmModifiedZScore:
		return &ModifiedZScore{}, nil
	case models.AlgorithmIQR:
		return &IQR{}, nil
	case models.AlgorithmIsolationForest:
		return NewIsolationForestScorer(), nil
	case models.AlgorithmSeasonalESD:
		return &SeasonalESD{}, nil
	case models.AlgorithmEnsemble:
		return NewEnsemble()
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algo)
	}
}

// EffectiveThreshold maps sensitivity to the deviation cutoff used by the
// z-score family. An explicit config threshold wins. Higher sensitivity
// tightens detection.
func EffectiveThreshold(cfg models.DetectionConfig) float64 {
	if cfg.Threshold > 0 {
		return cfg.Threshold
	}
	switch cfg.Sensitivity {
	case models.SensitivityLow:
		return 3.5
	case models.SensitivityHigh:
		return 2.5
	case models.SensitivityCritical:
		return 2.0
	default: // medium
		return 3.0
	}
}

// guard applies the MinSamples floor from the config, falling back to a
// small hard minimum so statistics stay meaningful. The second return is
// true when the window is too small to judge.
func guard(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig, threshold float64) (ScoreResult, bool) {
	min := cfg.MinSamples
	if min < 3 {
		min = 3
	}
	if len(window) >= min {
		return ScoreResult{}, false
	}
	expected := candidate.Value
	if len(window) > 0 {
		expected = mean(values(window))
	}
	return ScoreResult{
		Score:         0,
		Normalized:    0,
		Threshold:     threshold,
		IsAnomaly:     false,
		ExpectedValue: expected,
		Reason:        ReasonInsufficientData,
	}, true
}
