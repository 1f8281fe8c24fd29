package harness

import (
	"time"

	"github.com/masteryhub/grader/exercise"
)

// Aggregate reduces per-test verdicts into the final GradingResult. It is a
// pure function: score is the weight sum of passed test cases, the overall
// status follows from the verdict set and the truncated/cancelled flags, and
// hidden-test internals are redacted here, inside the engine boundary, not
// in a display layer.
func Aggregate(ex *exercise.Exercise, verdicts []TestVerdict, truncated, cancelled bool, total time.Duration) *GradingResult {
	weights := make(map[string]int, len(ex.TestCases))
	for _, tc := range ex.TestCases {
		weights[tc.ID] = tc.Weight
	}

	score := 0
	passed := 0
	for i := range verdicts {
		redact(&verdicts[i])
		if verdicts[i].Passed {
			passed++
			score += weights[verdicts[i].TestCaseID]
		}
	}

	r := &GradingResult{
		ExerciseID:      ex.ID,
		Score:           score,
		Verdicts:        verdicts,
		TotalDurationMS: total.Milliseconds(),
		Truncated:       truncated,
	}

	switch {
	case cancelled:
		// cancelled, not a partial score
		r.OverallStatus = StatusCancelled
		r.Score = 0
	case truncated:
		r.OverallStatus = StatusInfrastructureError
	case passed == len(ex.TestCases):
		r.OverallStatus = StatusPassed
	case passed == 0:
		r.OverallStatus = StatusFailed
	default:
		r.OverallStatus = StatusPartial
	}
	return r
}

// redact strips everything a hidden test case must not leak. The engine's
// output may be logged or cached downstream, so this is a hard invariant
// here rather than a presentation concern.
func redact(v *TestVerdict) {
	if !v.Hidden {
		return
	}
	v.ActualOutput = ""
	v.DiffSummary = ""
}
