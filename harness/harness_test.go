package harness

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/sandbox"
)

// fakeExec scripts sandbox outcomes by test case input (stdin mode).
type fakeExec struct {
	mu    sync.Mutex
	runs  []sandbox.Cmd
	byIn  map[string]sandbox.Run
	block chan struct{} // if non-nil, Execute waits for it or ctx
}

func (f *fakeExec) Execute(ctx context.Context, c sandbox.Cmd) sandbox.Run {
	f.mu.Lock()
	f.runs = append(f.runs, c)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return sandbox.Run{Status: sandbox.StatusRuntimeError, ExitCode: -1}
		}
	}
	if r, ok := f.byIn[c.Stdin]; ok {
		return r
	}
	return sandbox.Run{Status: sandbox.StatusNormal, Stdout: ""}
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func normal(out string) sandbox.Run {
	return sandbox.Run{Status: sandbox.StatusNormal, Stdout: out, Duration: 5 * time.Millisecond}
}

func twoCase() *exercise.Exercise {
	return &exercise.Exercise{
		ID: "sum",
		TestCases: []exercise.TestCase{
			{ID: "t1", Input: "2+2", ExpectedOutput: "4", Weight: 50},
			{ID: "t2", Input: "2+3", ExpectedOutput: "5", Weight: 50},
		},
		Limits: exercise.LimitPolicy{
			CPUTimeMS: 1000, WallClockMS: 2000,
			MemoryBytes: 64 << 20, MaxOutputBytes: 1 << 20,
		},
		Comparator: exercise.ComparatorExactText,
	}
}

func TestGrade_AllPass(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": normal("4\n"),
		"2+3": normal("5\n"),
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), twoCase(), "print(eval(input()))", nil)
	if r.OverallStatus != StatusPassed {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 100 {
		t.Errorf("score = %d", r.Score)
	}
	if len(r.Verdicts) != 2 {
		t.Fatalf("verdicts = %d", len(r.Verdicts))
	}
	if r.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestGrade_Partial(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": normal("4"),
		"2+3": normal("6"),
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), twoCase(), "code", nil)
	if r.OverallStatus != StatusPartial {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 50 {
		t.Errorf("score = %d", r.Score)
	}
	if r.Verdicts[1].Passed {
		t.Error("second verdict should fail")
	}
	if r.Verdicts[1].DiffSummary == "" {
		t.Error("expected diff summary")
	}
}

func TestGrade_RuntimeErrorContinues(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": {Status: sandbox.StatusRuntimeError, ExitCode: 1, Stderr: "Traceback"},
		"2+3": normal("5"),
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), twoCase(), "code", nil)
	if exec.count() != 2 {
		t.Fatalf("expected both cases to run, got %d", exec.count())
	}
	if r.OverallStatus != StatusPartial {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 50 {
		t.Errorf("score = %d", r.Score)
	}
	if r.Verdicts[0].Status != sandbox.StatusRuntimeError {
		t.Errorf("first verdict status = %v", r.Verdicts[0].Status)
	}
}

func TestGrade_InfrastructureTruncation(t *testing.T) {
	ex := twoCase()
	ex.TestCases = []exercise.TestCase{
		{ID: "t1", Input: "a", ExpectedOutput: "x", Weight: 20},
		{ID: "t2", Input: "b", ExpectedOutput: "x", Weight: 20},
		{ID: "t3", Input: "c", ExpectedOutput: "x", Weight: 20},
		{ID: "t4", Input: "d", ExpectedOutput: "x", Weight: 20},
		{ID: "t5", Input: "e", ExpectedOutput: "x", Weight: 20},
	}
	broken := sandbox.Run{Status: sandbox.StatusInternalError, ExitCode: -1, Error: "no scratch"}
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"a": broken, "b": broken, "c": broken, "d": broken, "e": broken,
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), ex, "code", nil)
	if exec.count() != 3 {
		t.Errorf("expected exactly 3 runs before truncation, got %d", exec.count())
	}
	if !r.Truncated {
		t.Error("expected truncated result")
	}
	if r.OverallStatus != StatusInfrastructureError {
		t.Errorf("status = %v", r.OverallStatus)
	}
}

func TestGrade_InternalErrorsNotConsecutive(t *testing.T) {
	ex := twoCase()
	ex.TestCases = []exercise.TestCase{
		{ID: "t1", Input: "a", ExpectedOutput: "x", Weight: 25},
		{ID: "t2", Input: "b", ExpectedOutput: "x", Weight: 25},
		{ID: "t3", Input: "c", ExpectedOutput: "x", Weight: 25},
		{ID: "t4", Input: "d", ExpectedOutput: "x", Weight: 25},
	}
	broken := sandbox.Run{Status: sandbox.StatusInternalError, ExitCode: -1}
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"a": broken, "b": normal("x"), "c": broken, "d": broken,
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), ex, "code", nil)
	if exec.count() != 4 {
		t.Errorf("expected all 4 runs, got %d", exec.count())
	}
	if r.Truncated {
		t.Error("non-consecutive internal errors must not truncate")
	}
	if r.OverallStatus != StatusPartial {
		t.Errorf("status = %v", r.OverallStatus)
	}
}

func TestGrade_EmptySubmission(t *testing.T) {
	exec := &fakeExec{}
	h := New(exec, nil)
	r := h.Grade(context.Background(), twoCase(), "   \n\t", nil)
	if exec.count() != 0 {
		t.Errorf("empty code must not reach the sandbox, got %d runs", exec.count())
	}
	if r.OverallStatus != StatusFailed {
		t.Errorf("status = %v", r.OverallStatus)
	}
	for _, v := range r.Verdicts {
		if v.Status != sandbox.StatusRuntimeError {
			t.Errorf("verdict %s status = %v", v.TestCaseID, v.Status)
		}
		if v.Passed {
			t.Errorf("verdict %s passed", v.TestCaseID)
		}
	}
}

func TestGrade_HiddenRedaction(t *testing.T) {
	ex := twoCase()
	ex.TestCases[1].Hidden = true
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": normal("4"),
		"2+3": normal("999"), // wrong, and hidden
	}}
	h := New(exec, nil)
	r := h.Grade(context.Background(), ex, "code", nil)
	v := r.Verdicts[1]
	if !v.Hidden {
		t.Fatal("verdict should be hidden")
	}
	if v.Passed {
		t.Error("hidden verdict should have failed")
	}
	if v.ActualOutput != "" || v.DiffSummary != "" {
		t.Errorf("hidden verdict leaks output: %+v", v)
	}
	// status and duration remain visible
	if v.Status != sandbox.StatusNormal {
		t.Errorf("hidden verdict status = %v", v.Status)
	}
}

func TestGrade_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExec{
		block: make(chan struct{}),
		byIn:  map[string]sandbox.Run{"2+2": normal("4"), "2+3": normal("5")},
	}
	h := New(exec, nil)
	done := make(chan *GradingResult, 1)
	go func() { done <- h.Grade(ctx, twoCase(), "code", nil) }()

	// let the first execution begin, then cancel
	for exec.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	r := <-done
	if r.OverallStatus != StatusCancelled {
		t.Errorf("status = %v", r.OverallStatus)
	}
	if r.Score != 0 {
		t.Errorf("cancelled result carries score %d", r.Score)
	}
}

func TestGrade_Idempotent(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": normal("4"),
		"2+3": normal("6"),
	}}
	h := New(exec, nil)
	a := h.Grade(context.Background(), twoCase(), "code", nil)
	b := h.Grade(context.Background(), twoCase(), "code", nil)
	if a.Score != b.Score || a.OverallStatus != b.OverallStatus {
		t.Errorf("grading not idempotent: %d/%v vs %d/%v",
			a.Score, a.OverallStatus, b.Score, b.OverallStatus)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	started []string
	dones   []string
}

func (o *recordingObserver) StartTest(exID, tcID string, index, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, tcID)
}

func (o *recordingObserver) TestDone(exID string, v TestVerdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dones = append(o.dones, v.TestCaseID)
}

func TestGrade_ObserverOrder(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{
		"2+2": normal("4"),
		"2+3": normal("5"),
	}}
	obs := &recordingObserver{}
	h := New(exec, nil)
	h.Grade(context.Background(), twoCase(), "code", obs)
	want := []string{"t1", "t2"}
	for i, id := range want {
		if obs.started[i] != id || obs.dones[i] != id {
			t.Fatalf("observer order: started=%v dones=%v", obs.started, obs.dones)
		}
	}
}

func TestGrade_SandboxCmdShape(t *testing.T) {
	exec := &fakeExec{byIn: map[string]sandbox.Run{"2+2": normal("4"), "2+3": normal("5")}}
	h := New(exec, nil)
	h.Grade(context.Background(), twoCase(), "print(1)", nil)
	c := exec.runs[0]
	if c.Args[len(c.Args)-1] != bootstrapName {
		t.Errorf("args = %v", c.Args)
	}
	if _, ok := c.CopyIn[mainName]; !ok {
		t.Error("main program missing from copy-in")
	}
	if _, ok := c.CopyIn[bootstrapName]; !ok {
		t.Error("bootstrap missing from copy-in")
	}
	if c.WallClock != 2*time.Second || c.CPUTime != time.Second {
		t.Errorf("limits: cpu=%v wall=%v", c.CPUTime, c.WallClock)
	}
}

func TestGrade_CallMode(t *testing.T) {
	ex := twoCase()
	ex.Mode = exercise.ModeCall
	exec := &fakeExec{}
	h := New(exec, nil)
	h.Grade(context.Background(), ex, "def add(a, b):\n    return a + b", nil)
	c := exec.runs[0]
	if c.Stdin != "" {
		t.Errorf("call mode should not pipe stdin, got %q", c.Stdin)
	}
	main := string(c.CopyIn[mainName])
	if !strings.Contains(main, "2+2") {
		t.Errorf("harness snippet not appended: %q", main)
	}
}
