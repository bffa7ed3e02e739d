package algorithm

import (
	"fmt"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// tieBreakAnomalous decides an exact 50/50 split between constituent
// algorithms. False favors precision over recall: when the engine itself
// is split, it stays quiet.
const tieBreakAnomalous = false

// Ensemble fans a candidate out to every single-strategy scorer, applies
// a strict majority vote, and reports the mean of the normalized
// sub-scores. Contributor verdicts are preserved for auditability.
type Ensemble struct {
	members []Scorer
}

// NewEnsemble builds the ensemble over all single algorithms.
func NewEnsemble() (*Ensemble, error) {
	names := []models.Algorithm{
		models.AlgorithmZScore,
		models.AlgorithmModifiedZScore,
		models.AlgorithmIQR,
		models.AlgorithmIsolationForest,
		models.AlgorithmSeasonalESD,
	}
	members := make([]Scorer, 0, len(names))
	for _, n := range names {
		s, err := New(n)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %s: %w", n, err)
		}
		members = append(members, s)
	}
	return &Ensemble{members: members}, nil
}

// NewEnsembleOf builds an ensemble over an explicit member set, used by
// tests and by configs that restrict the vote.
func NewEnsembleOf(members ...Scorer) *Ensemble {
	return &Ensemble{members: members}
}

func (e *Ensemble) Name() models.Algorithm { return models.AlgorithmEnsemble }

func (e *Ensemble) Score(window []models.Sample, candidate models.Sample, cfg models.DetectionConfig) ScoreResult {
	if res, short := guard(window, candidate, cfg, 1); short {
		return res
	}

	votes := 0
	sumNormalized := 0.0
	sumExpected := 0.0
	counted := 0
	contributors := make(map[string]bool, len(e.members))

	for _, m := range e.members {
		sub := m.Score(window, candidate, cfg)
		contributors[string(m.Name())] = sub.IsAnomaly
		if sub.Reason == ReasonInsufficientData {
			continue
		}
		if sub.IsAnomaly {
			votes++
		}
		sumNormalized += sub.Normalized
		sumExpected += sub.ExpectedValue
		counted++
	}

	if counted == 0 {
		return ScoreResult{
			Threshold:     1,
			ExpectedValue: candidate.Value,
			Reason:        ReasonInsufficientData,
			Contributors:  contributors,
		}
	}

	isAnomaly := 2*votes > counted
	if 2*votes == counted && votes > 0 {
		isAnomaly = tieBreakAnomalous
	}

	score := sumNormalized / float64(counted)
	return ScoreResult{
		Score:         score,
		Normalized:    score,
		Threshold:     1,
		IsAnomaly:     isAnomaly,
		ExpectedValue: sumExpected / float64(counted),
		Contributors:  contributors,
	}
}
