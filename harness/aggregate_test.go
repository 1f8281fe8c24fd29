package harness

import (
	"testing"
	"time"

	"github.com/masteryhub/grader/exercise"
)

func weightedExercise() *exercise.Exercise {
	return &exercise.Exercise{
		ID: "weights",
		TestCases: []exercise.TestCase{
			{ID: "a", Weight: 10},
			{ID: "b", Weight: 30},
			{ID: "c", Weight: 60, Hidden: true},
		},
	}
}

func TestAggregate_Score(t *testing.T) {
	tests := []struct {
		name       string
		passed     []bool
		wantScore  int
		wantStatus OverallStatus
	}{
		{"all pass", []bool{true, true, true}, 100, StatusPassed},
		{"none pass", []bool{false, false, false}, 0, StatusFailed},
		{"light only", []bool{true, false, false}, 10, StatusPartial},
		{"heavy only", []bool{false, false, true}, 60, StatusPartial},
		{"two of three", []bool{true, true, false}, 40, StatusPartial},
	}
	ex := weightedExercise()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vs []TestVerdict
			for i, p := range tt.passed {
				vs = append(vs, TestVerdict{TestCaseID: ex.TestCases[i].ID, Passed: p})
			}
			r := Aggregate(ex, vs, false, false, time.Second)
			if r.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", r.Score, tt.wantScore)
			}
			if r.OverallStatus != tt.wantStatus {
				t.Errorf("status = %v, want %v", r.OverallStatus, tt.wantStatus)
			}
		})
	}
}

func TestAggregate_Truncated(t *testing.T) {
	ex := weightedExercise()
	vs := []TestVerdict{{TestCaseID: "a", Passed: true}}
	r := Aggregate(ex, vs, true, false, time.Second)
	if r.OverallStatus != StatusInfrastructureError {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if !r.Truncated {
		t.Error("truncated flag not carried")
	}
	// completed verdicts and their score survive truncation
	if r.Score != 10 {
		t.Errorf("score = %d", r.Score)
	}
}

func TestAggregate_CancelledZeroesScore(t *testing.T) {
	ex := weightedExercise()
	vs := []TestVerdict{
		{TestCaseID: "a", Passed: true},
		{TestCaseID: "b", Passed: true},
	}
	r := Aggregate(ex, vs, false, true, time.Second)
	if r.OverallStatus != StatusCancelled {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 0 {
		t.Errorf("score = %d, want 0", r.Score)
	}
}

func TestAggregate_RedactsHidden(t *testing.T) {
	ex := weightedExercise()
	vs := []TestVerdict{
		{TestCaseID: "a", Passed: false, ActualOutput: "1", DiffSummary: "line 1 differs"},
		{TestCaseID: "c", Passed: false, Hidden: true, ActualOutput: "secret", DiffSummary: "line 1 differs"},
	}
	r := Aggregate(ex, vs, false, false, time.Second)
	if r.Verdicts[0].ActualOutput != "1" || r.Verdicts[0].DiffSummary == "" {
		t.Errorf("visible verdict was redacted: %+v", r.Verdicts[0])
	}
	h := r.Verdicts[1]
	if h.ActualOutput != "" || h.DiffSummary != "" {
		t.Errorf("hidden verdict leaks: %+v", h)
	}
	if !h.Hidden {
		t.Error("hidden flag dropped")
	}
}

func TestAggregate_EmptyVerdicts(t *testing.T) {
	ex := weightedExercise()
	r := Aggregate(ex, nil, true, false, 0)
	if r.OverallStatus != StatusInfrastructureError {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 0 {
		t.Errorf("score = %d", r.Score)
	}
	if r.ExerciseID != "weights" {
		t.Errorf("exercise id = %q", r.ExerciseID)
	}
}
