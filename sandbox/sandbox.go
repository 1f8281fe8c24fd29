// Package sandbox defines the execution core of the grading engine: the
// instruction to run one program once under resource limits, the record of
// how that run ended, and the Executor interface the concrete isolation
// mechanisms implement. The mechanism (process rlimits, container) is
// swappable without the rest of the engine noticing.
package sandbox

import (
	"context"
	"time"
)

// Cmd is the instruction to run one program once inside the sandbox. All
// limits are enforced by the executor; the sandboxed program never
// negotiates them.
type Cmd struct {
	// Args is the argv to execute inside the scratch directory.
	Args []string

	// Env is the exec environment; nil means the executor's minimal default.
	Env []string

	// Stdin is piped to the program's standard input.
	Stdin string

	// CopyIn maps scratch-relative file names to contents materialized
	// before exec.
	CopyIn map[string][]byte

	// resource limits
	CPUTime        time.Duration
	WallClock      time.Duration
	MemoryBytes    int64
	MaxOutputBytes int64
}

// Run is the ephemeral record of one execution attempt. Stdout and stderr
// are truncated at the output cap; PeakMemoryBytes is best effort.
type Run struct {
	Status          Status        `json:"status"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	Duration        time.Duration `json:"duration"`
	PeakMemoryBytes int64         `json:"peak_memory_bytes"`

	// Error carries detail for internal_error statuses. It is never
	// surfaced to callers of the engine.
	Error string `json:"error,omitempty"`
}

// Executor runs one Cmd to completion. Implementations guarantee that the
// underlying process tree is terminated, not merely signalled, before
// Execute returns, and that no invocation blocks past the wall clock budget
// plus a bounded grace margin. Cancelling ctx triggers the same forced
// termination path as a timeout.
type Executor interface {
	Execute(ctx context.Context, cmd Cmd) Run
}

// InternalError builds a Run describing a sandbox infrastructure failure.
func InternalError(err error) Run {
	return Run{Status: StatusInternalError, ExitCode: -1, Error: err.Error()}
}
