// Package procbox implements sandbox.Executor with an OS process per run:
// a fresh scratch directory, rlimits applied at process group level before
// any user code runs, a wall clock watchdog that kills the whole group, and
// bounded output collection. It is the default isolation mechanism; see
// dockerbox for the container-backed one.
package procbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masteryhub/grader/sandbox"
)

const (
	// defaultGrace bounds how long Execute may block past the wall clock
	// budget while the group is reaped.
	defaultGrace = 500 * time.Millisecond

	// extraMemory is headroom above the policy ceiling so the interpreter
	// itself can start; the ceiling is still classified against the policy.
	extraMemory = 32 << 20
)

// Config configures a process executor.
type Config struct {
	// Root is the directory scratch directories are created under.
	Root string
	// Grace overrides the termination grace margin.
	Grace time.Duration
	// Logger, nil for no logging.
	Logger *zap.Logger
}

// Executor runs commands as resource-limited child processes.
type Executor struct {
	root   string
	grace  time.Duration
	logger *zap.Logger
}

// New creates a process executor rooted at conf.Root, creating it if needed.
func New(conf Config) (*Executor, error) {
	root := conf.Root
	if root == "" {
		root = filepath.Join(os.TempDir(), "grader")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root %s: %w", root, err)
	}
	grace := conf.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{root: root, grace: grace, logger: logger}, nil
}

// Execute runs cmd once. It always returns a Run; infrastructure failures
// are reported as StatusInternalError, never as a Go error, so one broken
// run cannot abort a batch.
func (e *Executor) Execute(ctx context.Context, c sandbox.Cmd) sandbox.Run {
	if len(c.Args) == 0 {
		return sandbox.InternalError(errors.New("empty command"))
	}

	scratch := filepath.Join(e.root, uuid.NewString())
	if err := os.Mkdir(scratch, 0o700); err != nil {
		return sandbox.InternalError(fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		// cleanup failure must not invalidate the run result
		if err := os.RemoveAll(scratch); err != nil {
			e.logger.Warn("scratch dir cleanup failed",
				zap.String("dir", scratch), zap.Error(err))
		}
	}()

	for name, content := range c.CopyIn {
		p := filepath.Join(scratch, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return sandbox.InternalError(fmt.Errorf("copy in %s: %w", name, err))
		}
		if err := os.WriteFile(p, content, 0o600); err != nil {
			return sandbox.InternalError(fmt.Errorf("copy in %s: %w", name, err))
		}
	}

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Dir = scratch
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = defaultEnv(scratch)
	}
	cmd.Stdin = strings.NewReader(c.Stdin)
	cmd.SysProcAttr = procAttr()
	cmd.WaitDelay = e.grace

	var killed atomic.Bool
	kill := func() {
		if cmd.Process != nil {
			killGroup(cmd.Process.Pid)
		}
	}

	stdout := newCollector(c.MaxOutputBytes, func() {
		killed.Store(true)
		kill()
	})
	stderr := newCollector(c.MaxOutputBytes, func() {
		killed.Store(true)
		kill()
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return sandbox.InternalError(fmt.Errorf("start: %w", err))
	}
	pid := cmd.Process.Pid

	// Limits land via prlimit just after Start, so there is a brief
	// window where the child runs unbounded. The child spends that
	// window inside execve and interpreter startup; submission code
	// cannot run before the guard bootstrap, which imports nothing
	// beyond the interpreter's own startup set.
	if err := applyLimits(pid, c); err != nil {
		// the process is already running without limits; take it down
		killGroup(pid)
		_ = cmd.Wait()
		return sandbox.InternalError(fmt.Errorf("apply limits: %w", err))
	}

	// wall clock watchdog, independent of the scheduler
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(c.WallClock, func() {
		timedOut.Store(true)
		killGroup(pid)
	})
	defer watchdog.Stop()

	// cancellation takes the same forced termination path as a timeout
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			killGroup(pid)
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	duration := time.Since(start)

	// the group may still hold stragglers; the watchdog only killed once
	killGroup(pid)

	cpuUsed, peak := usage(cmd.ProcessState)

	run := sandbox.Run{
		ExitCode:        -1,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        duration,
		PeakMemoryBytes: peak,
	}
	if cmd.ProcessState != nil {
		run.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case killed.Load():
		run.Status = sandbox.StatusKilledOutputOverflow
	case timedOut.Load(), cpuUsed >= c.CPUTime:
		run.Status = sandbox.StatusKilledTimeout
	case peak > c.MemoryBytes:
		run.Status = sandbox.StatusKilledMemory
	case waitErr == nil && run.ExitCode == 0:
		run.Status = sandbox.StatusNormal
	default:
		run.Status = sandbox.StatusRuntimeError
	}

	e.logger.Debug("sandbox run finished",
		zap.String("status", run.Status.String()),
		zap.Int("exit_code", run.ExitCode),
		zap.Duration("duration", duration),
		zap.Int64("peak_memory", peak))
	return run
}

func defaultEnv(scratch string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
	}
}
