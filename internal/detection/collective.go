package detection

import (
	"strconv"

	"github.com/pulseboard/pulseboard-engine/internal/detection/algorithm"
	"github.com/pulseboard/pulseboard-engine/internal/detection/severity"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Collective promotion: a run of consecutive points that each land above
// collectiveFloor of the threshold without individually crossing it is
// itself suspicious. Runs of at least minCollectiveRun points collapse
// into a single anomaly anchored at the run's peak, so a slow drift
// reports once instead of never (or once per point).
const (
	collectiveFloor  = 0.7
	minCollectiveRun = 3
)

// borderline reports whether a verdict participates in a collective run:
// a real score under the threshold but over the floor. Short-circuit
// verdicts never participate.
func borderline(res algorithm.ScoreResult) bool {
	return !res.IsAnomaly && res.Reason == "" && res.Normalized >= collectiveFloor && res.Normalized < 1
}

type run struct {
	start, end int // inclusive sample indices
	peak       int // index of the highest normalized score in the run
}

func (r run) length() int { return r.end - r.start + 1 }

// collectiveRuns scans per-point verdicts for maximal borderline runs of
// at least minCollectiveRun points. Verdicts before firstScored carry
// zero values and are skipped.
func collectiveRuns(verdicts []algorithm.ScoreResult, firstScored int) []run {
	var runs []run
	cur := run{start: -1}
	flush := func(endExclusive int) {
		if cur.start >= 0 && endExclusive-cur.start >= minCollectiveRun {
			cur.end = endExclusive - 1
			runs = append(runs, cur)
		}
		cur = run{start: -1}
	}
	for i := firstScored; i < len(verdicts); i++ {
		if !borderline(verdicts[i]) {
			flush(i)
			continue
		}
		if cur.start < 0 {
			cur = run{start: i, peak: i}
		} else if verdicts[i].Normalized > verdicts[cur.peak].Normalized {
			cur.peak = i
		}
	}
	flush(len(verdicts))
	return runs
}

// buildCollective assembles the anomaly record for a promoted run,
// anchored at the run's peak point.
func buildCollective(metricName string, peak models.Sample, res algorithm.ScoreResult, algo models.Algorithm, span int) models.Anomaly {
	a := severity.Build(metricName, peak, res, algo)
	a.Metadata["collective"] = "true"
	a.Metadata["collective_span"] = strconv.Itoa(span)
	a.Explanation = "sustained drift: " + a.Explanation
	return a
}
