package algorithm

import (
	"math"
	"math/rand"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// isolationTree is a single random-partition tree.
type isolationTree struct {
	splitValue float64
	left       *isolationTree
	right      *isolationTree
	size       int
	isLeaf     bool
}

// IsolationForest isolates values by recursive random partitioning.
// Values that isolate in fewer splits score closer to 1. Seeded
// deterministically so repeated scoring of the same window agrees.
type IsolationForest struct {
	trees         []*isolationTree
	numTrees      int
	subSampleSize int
	// fittedSize is the sub-sample size actually used by Fit, which is
	// smaller than subSampleSize when the data is. Normalizing path
	// lengths with the configured size instead would inflate scores on
	// small windows.
	fittedSize int
	maxDepth   int
	rng        *rand.Rand
}

// NewIsolationForest creates a forest with the given shape and seed.
func NewIsolationForest(numTrees, subSampleSize, maxDepth int, seed int64) *IsolationForest {
	return &IsolationForest{
		trees:         make([]*isolationTree, 0, numTrees),
		numTrees:      numTrees,
		subSampleSize: subSampleSize,
		maxDepth:      maxDepth,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Fit builds the isolation trees over the given values.
func (f *IsolationForest) Fit(vals []float64) {
	if len(vals) == 0 {
		return
	}
	f.fittedSize = f.subSampleSize
	if f.fittedSize > len(vals) {
		f.fittedSize = len(vals)
	}
	for i := 0; i < f.numTrees; i++ {
		sample := f.sample(vals)
		f.trees = append(f.trees, f.buildTree(sample, 0))
	}
}

// Predict returns the anomaly score for a value in [0, 1]; higher means
// easier to isolate and therefore more anomalous.
func (f *IsolationForest) Predict(v float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, v, 0)
	}
	avg := total / float64(len(f.trees))

	// score = 2^(-E[h(x)] / c(n)) where c(n) is the average unsuccessful
	// BST search path length.
	c := averagePathLength(f.fittedSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}

func (f *IsolationForest) sample(vals []float64) []float64 {
	n := f.subSampleSize
	if n > len(vals) {
		n = len(vals)
	}
	shuffled := make([]float64, len(vals))
	copy(shuffled, vals)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func (f *IsolationForest) buildTree(vals []float64, depth int) *isolationTree {
	if len(vals) <= 1 || depth >= f.maxDepth || allIdentical(vals) {
		return &isolationTree{size: len(vals), isLeaf: true}
	}

	minVal, maxVal := vals[0], vals[0]
	for _, v := range vals {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	split := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right []float64
	for _, v := range vals {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(vals), isLeaf: true}
	}

	return &isolationTree{
		splitValue: split,
		left:       f.buildTree(left, depth+1),
		right:      f.buildTree(right, depth+1),
		size:       len(vals),
	}
}

func (f *IsolationForest) pathLength(tree *isolationTree, v float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if v < tree.splitValue {
		return f.pathLength(tree.left, v, depth+1)
	}
	return f.pathLength(tree.right, v, depth+1)
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n, the expected path
// length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(vals []float64) bool {
	for _, v := range vals[1:] {
		if math.Abs(v-vals[0]) > 1e-10 {
			return false
		}
	}
	return true
}

// Forest shape defaults. 64 trees over sub-samples of 64 keep per-point
// scoring cheap enough for streaming use.
const (
	defaultNumTrees   = 64
	defaultSubSample  = 64
	defaultTreeDepth  = 10
	defaultForestSeed = 1
)

// IsolationForestScorer adapts the forest to the Scorer interface,
// fitting a fresh forest over the window for each candidate.
type IsolationForestScorer struct {
	seed int64
}

// NewIsolationForestScorer returns a deterministic forest-backed scorer.
func NewIsolationForestScorer() *IsolationForestScorer {
	return &IsolationForestScorer{seed: defaultForestSeed}
}

func (s *IsolationForestScorer) Name() models.Algorithm { return models.AlgorithmIsolationForest }

// forestCutoff maps sensitivity to the score above which a point is
// anomalous. An explicit sub-1 config threshold is taken directly as the
// score cutoff.
func forestCutoff(cfg models.DetectionConfig) float64 {
	if cfg.Threshold > 0 && cfg.Threshold < 1 {
		return cfg.Threshold
	}
	switch cfg.Sensitivity {
	case models.SensitivityLow:
		return 0.70
	case models.SensitivityHigh:
		return 0.60
	case models.SensitivityCritical:
		return 0.55
	default: // medium
		return 0.65
	}
}

func (s *IsolationForestScorer) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	cutoff := forestCutoff(cfg)
	if res, short := guard(window, candidate, cfg, cutoff); short {
		return res
	}

	vals := values(window)
	expected := mean(vals)
	if allIdentical(vals) {
		return ScoreResult{
			Score:         0,
			Normalized:    0,
			Threshold:     cutoff,
			IsAnomaly:     false,
			ExpectedValue: expected,
			Reason:        ReasonDegenerateWindow,
		}
	}

	forest := NewIsolationForest(defaultNumTrees, defaultSubSample, defaultTreeDepth, s.seed)
	forest.Fit(vals)
	score := forest.Predict(candidate.Value)

	return ScoreResult{
		Score:         score,
		Normalized:    score / cutoff,
		Threshold:     cutoff,
		IsAnomaly:     score > cutoff,
		ExpectedValue: expected,
	}
}
