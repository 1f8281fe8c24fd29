//go:build linux

package procbox

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/masteryhub/grader/sandbox"
)

const (
	procLimit   = 64
	nofileLimit = 256
)

// procAttr places the child in its own process group so the watchdog can
// take down spawned subprocesses together with it.
func procAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// applyLimits sets rlimits on the already-started child, before the
// interpreter reaches user code. The limits are set by the supervisor; the
// sandboxed code never negotiates them.
func applyLimits(pid int, c sandbox.Cmd) error {
	set := func(resource int, cur, max uint64) error {
		return unix.Prlimit(pid, resource, &unix.Rlimit{Cur: cur, Max: max}, nil)
	}

	cpuSec := uint64((c.CPUTime + time.Second - 1) / time.Second)
	if cpuSec == 0 {
		cpuSec = 1
	}
	if err := set(unix.RLIMIT_CPU, cpuSec, cpuSec+1); err != nil {
		return err
	}
	mem := uint64(c.MemoryBytes + extraMemory)
	if err := set(unix.RLIMIT_AS, mem, mem); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_FSIZE, uint64(c.MaxOutputBytes), uint64(c.MaxOutputBytes)); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NPROC, procLimit, procLimit); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NOFILE, nofileLimit, nofileLimit); err != nil {
		return err
	}
	return set(unix.RLIMIT_CORE, 0, 0)
}

// killGroup force-terminates the whole process group. SIGKILL is not
// catchable, so termination never depends on user code cooperating.
func killGroup(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// usage reports CPU time consumed and peak RSS for the finished process.
func usage(state *os.ProcessState) (cpu time.Duration, peak int64) {
	if state == nil {
		return 0, 0
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		cpu = time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
		peak = ru.Maxrss << 10 // maxrss is reported in KiB
	}
	return cpu, peak
}
