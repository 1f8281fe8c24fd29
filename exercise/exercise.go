// Package exercise defines the immutable exercise definitions consumed by
// the grading engine: test cases, resource limit policies and comparator
// selection. Definitions are produced by content authoring and are read-only
// to the engine; Validate rejects malformed definitions before any
// submission is executed against them.
package exercise

import (
	"fmt"
	"time"
)

// WeightTotal is the fixed sum test case weights must add up to.
const WeightTotal = 100

// HarnessMode selects how a test case's Input reaches the submission.
type HarnessMode int

const (
	// ModeStdin pipes the test case input to the program's stdin.
	ModeStdin HarnessMode = iota
	// ModeCall appends the test case input to the submission as a
	// function-call harness snippet and runs the combined program.
	ModeCall
)

// TestCase is one input / expected output pair. Hidden test cases execute
// normally but their expected output and diff are never surfaced.
type TestCase struct {
	ID             string `json:"id" yaml:"id"`
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`
	Weight         int    `json:"weight" yaml:"weight"`
	Hidden         bool   `json:"hidden" yaml:"hidden"`
}

// LimitPolicy bounds one sandbox execution. It is pure data; enforcement
// belongs to the sandbox executor.
type LimitPolicy struct {
	CPUTimeMS      int64 `json:"cpu_time_ms" yaml:"cpu_time_ms"`
	WallClockMS    int64 `json:"wall_clock_ms" yaml:"wall_clock_ms"`
	MemoryBytes    int64 `json:"memory_bytes" yaml:"memory_bytes"`
	MaxOutputBytes int64 `json:"max_output_bytes" yaml:"max_output_bytes"`

	// AllowedModules is the import allow-list on top of the safe baseline.
	// Empty means only the baseline is importable.
	AllowedModules []string `json:"allowed_modules,omitempty" yaml:"allowed_modules"`
}

// CPUTime returns the CPU time budget as a duration.
func (p LimitPolicy) CPUTime() time.Duration { return time.Duration(p.CPUTimeMS) * time.Millisecond }

// WallClock returns the wall clock budget as a duration.
func (p LimitPolicy) WallClock() time.Duration {
	return time.Duration(p.WallClockMS) * time.Millisecond
}

// Exercise is one gradable exercise definition.
type Exercise struct {
	ID             string         `json:"id" yaml:"id"`
	SourceTemplate string         `json:"source_template,omitempty" yaml:"source_template"`
	TestCases      []TestCase     `json:"test_cases" yaml:"test_cases"`
	Limits         LimitPolicy    `json:"limits" yaml:"limits"`
	Comparator     ComparatorKind `json:"comparator" yaml:"comparator"`
	Mode           HarnessMode    `json:"mode" yaml:"mode"`

	// RunCommand overrides the interpreter invocation for this exercise
	// ("python3 -I" by default). Parsed with shlex at load time.
	RunCommand string `json:"run_command,omitempty" yaml:"run_command"`
}

// ConfigError reports a malformed exercise definition. It is raised at load
// time, before any submission executes, and is meant for content authors.
type ConfigError struct {
	ExerciseID string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("exercise %q: %s", e.ExerciseID, e.Reason)
}

func configErrorf(id, format string, v ...any) error {
	return &ConfigError{ExerciseID: id, Reason: fmt.Sprintf(format, v...)}
}

// Validate checks the definition invariants. It fails fast with a
// ConfigError so a broken exercise never reaches a student.
func (e *Exercise) Validate() error {
	if e.ID == "" {
		return configErrorf(e.ID, "missing id")
	}
	if len(e.TestCases) == 0 {
		return configErrorf(e.ID, "no test cases")
	}
	seen := make(map[string]bool, len(e.TestCases))
	sum := 0
	for i, tc := range e.TestCases {
		if tc.ID == "" {
			return configErrorf(e.ID, "test case %d: missing id", i)
		}
		if seen[tc.ID] {
			return configErrorf(e.ID, "duplicate test case id %q", tc.ID)
		}
		seen[tc.ID] = true
		if tc.Weight < 0 {
			return configErrorf(e.ID, "test case %q: negative weight %d", tc.ID, tc.Weight)
		}
		sum += tc.Weight
	}
	if sum != WeightTotal {
		return configErrorf(e.ID, "test case weights sum to %d, want %d", sum, WeightTotal)
	}
	if err := e.Limits.validate(); err != nil {
		return configErrorf(e.ID, "%v", err)
	}
	if e.Comparator < ComparatorExactText || e.Comparator > ComparatorStructuredJSON {
		return configErrorf(e.ID, "unknown comparator kind %d", e.Comparator)
	}
	return nil
}

func (p LimitPolicy) validate() error {
	if p.CPUTimeMS <= 0 {
		return fmt.Errorf("cpu_time_ms must be positive, got %d", p.CPUTimeMS)
	}
	if p.WallClockMS < p.CPUTimeMS {
		return fmt.Errorf("wall_clock_ms %d < cpu_time_ms %d", p.WallClockMS, p.CPUTimeMS)
	}
	if p.MemoryBytes <= 0 {
		return fmt.Errorf("memory_bytes must be positive, got %d", p.MemoryBytes)
	}
	if p.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_bytes must be positive, got %d", p.MaxOutputBytes)
	}
	return nil
}
