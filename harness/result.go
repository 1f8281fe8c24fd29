package harness

import (
	"fmt"

	"github.com/masteryhub/grader/sandbox"
)

// OverallStatus summarizes a whole grading invocation.
type OverallStatus int

const (
	// every test case passed
	StatusPassed OverallStatus = iota
	// no test case passed
	StatusFailed
	// some but not all passed, and grading was not truncated
	StatusPartial
	// grading aborted after repeated sandbox infrastructure failures
	StatusInfrastructureError
	// the caller cancelled before grading finished
	StatusCancelled
)

var overallToString = []string{
	"passed",
	"failed",
	"partial",
	"infrastructure_error",
	"cancelled",
}

func (s OverallStatus) String() string {
	v := int(s)
	if v < 0 || v >= len(overallToString) {
		return fmt.Sprintf("overall(%d)", v)
	}
	return overallToString[v]
}

// MarshalJSON encodes the status as its string name.
func (s OverallStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the status from its string name.
func (s *OverallStatus) UnmarshalJSON(b []byte) error {
	for i, v := range overallToString {
		if `"`+v+`"` == string(b) {
			*s = OverallStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown overall status %s", b)
}

// TestVerdict is the outcome of one test case. For hidden test cases the
// aggregator strips ActualOutput, DiffSummary and the run's stdout/stderr
// before the result leaves the engine.
type TestVerdict struct {
	TestCaseID   string         `json:"test_case_id"`
	Passed       bool           `json:"passed"`
	Hidden       bool           `json:"hidden"`
	ActualOutput string         `json:"actual_output,omitempty"`
	DiffSummary  string         `json:"diff_summary,omitempty"`
	Status       sandbox.Status `json:"status"`
	DurationMS   int64          `json:"duration_ms"`
}

// GradingResult is the single value the engine hands back to its caller.
// It is constructed once by the aggregator and immutable thereafter.
type GradingResult struct {
	ExerciseID      string        `json:"exercise_id"`
	OverallStatus   OverallStatus `json:"overall_status"`
	Score           int           `json:"score"`
	Verdicts        []TestVerdict `json:"verdicts"`
	TotalDurationMS int64         `json:"total_duration_ms"`
	Truncated       bool          `json:"truncated"`
}
