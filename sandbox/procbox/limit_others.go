//go:build !linux

package procbox

import (
	"os"
	"syscall"
	"time"

	"github.com/masteryhub/grader/sandbox"
)

// Non-Linux hosts get wall clock enforcement and output caps only; CPU and
// memory rlimits need Linux. Intended for development, not deployment.

func procAttr() *syscall.SysProcAttr { return nil }

func applyLimits(pid int, c sandbox.Cmd) error { return nil }

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func usage(state *os.ProcessState) (cpu time.Duration, peak int64) {
	if state == nil {
		return 0, 0
	}
	return state.UserTime() + state.SystemTime(), 0
}
