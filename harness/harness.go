// Package harness runs a submission against an exercise's test cases in
// order, one sandbox execution per case, and reduces the per-test verdicts
// into the single GradingResult the engine returns. It never performs I/O
// of its own beyond the sandbox executor it is handed.
package harness

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/sandbox"
)

// maxConsecutiveInternal is the fail-fast threshold: this many internal
// sandbox failures in a row abort the remaining test cases. It separates
// "the submission is wrong" from "the grading system is broken".
const maxConsecutiveInternal = 3

// Observer receives per-test progress. Implementations must be fast; they
// are called on the grading slot's goroutine.
type Observer interface {
	StartTest(exerciseID, testCaseID string, index, total int)
	TestDone(exerciseID string, verdict TestVerdict)
}

// Harness grades submissions with a sandbox executor.
type Harness struct {
	exec   sandbox.Executor
	logger *zap.Logger
}

// New creates a harness; logger may be nil.
func New(exec sandbox.Executor, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{exec: exec, logger: logger}
}

// Grade runs code against every test case of ex in order and aggregates the
// verdicts. obs may be nil. Cancelling ctx stops grading at the next test
// boundary (a running sandbox execution is killed immediately) and yields a
// cancelled result with no partial score.
func (h *Harness) Grade(ctx context.Context, ex *exercise.Exercise, code string, obs Observer) *GradingResult {
	start := time.Now()

	runArgs, err := ex.RunArgs()
	if err != nil {
		// validated at load time; reaching this is an engine defect
		h.logger.Error("invalid run command slipped past validation",
			zap.String("exercise", ex.ID), zap.Error(err))
		return Aggregate(ex, nil, true, false, time.Since(start))
	}

	empty := strings.TrimSpace(code) == ""

	var (
		verdicts       []TestVerdict
		consecInternal int
		truncated      bool
		cancelled      bool
	)

	total := len(ex.TestCases)
	for i, tc := range ex.TestCases {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if obs != nil {
			obs.StartTest(ex.ID, tc.ID, i, total)
		}

		var run sandbox.Run
		if empty {
			run = sandbox.Run{
				Status:   sandbox.StatusRuntimeError,
				ExitCode: -1,
				Stderr:   "empty submission",
			}
		} else {
			files, stdin := buildProgram(ex, tc, code)
			run = h.exec.Execute(ctx, sandbox.Cmd{
				Args:           append(runArgs[:len(runArgs):len(runArgs)], bootstrapName),
				Stdin:          stdin,
				CopyIn:         files,
				CPUTime:        ex.Limits.CPUTime(),
				WallClock:      ex.Limits.WallClock(),
				MemoryBytes:    ex.Limits.MemoryBytes,
				MaxOutputBytes: ex.Limits.MaxOutputBytes,
			})
		}

		if ctx.Err() != nil {
			cancelled = true
			break
		}

		v := h.verdict(ex, tc, run)
		verdicts = append(verdicts, v)
		if obs != nil {
			obs.TestDone(ex.ID, v)
		}

		if run.Status == sandbox.StatusInternalError {
			consecInternal++
			h.logger.Error("sandbox infrastructure failure",
				zap.String("exercise", ex.ID),
				zap.String("test_case", tc.ID),
				zap.Int("consecutive", consecInternal),
				zap.String("detail", run.Error))
			if consecInternal >= maxConsecutiveInternal {
				truncated = true
				break
			}
		} else {
			consecInternal = 0
		}
	}

	return Aggregate(ex, verdicts, truncated, cancelled, time.Since(start))
}

// verdict compares one run's output against the test case expectation. Any
// non-normal exit is a failed verdict, never an aborted batch.
func (h *Harness) verdict(ex *exercise.Exercise, tc exercise.TestCase, run sandbox.Run) TestVerdict {
	v := TestVerdict{
		TestCaseID:   tc.ID,
		Hidden:       tc.Hidden,
		ActualOutput: run.Stdout,
		Status:       run.Status,
		DurationMS:   run.Duration.Milliseconds(),
	}
	if run.Status != sandbox.StatusNormal {
		v.DiffSummary = "execution did not complete normally: " + run.Status.String()
		return v
	}
	passed, diff := compare(ex.Comparator, tc.ExpectedOutput, run.Stdout)
	v.Passed = passed
	v.DiffSummary = diff
	return v
}
