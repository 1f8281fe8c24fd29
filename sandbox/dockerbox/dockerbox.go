// Package dockerbox implements sandbox.Executor on the Docker Engine API:
// one hardened container per run with memory/pids limits, no network and a
// tmpfs work directory. It exists so deployments without the process-level
// isolation guarantees (or ones that want kernel namespaces) can swap the
// mechanism without touching the harness or scheduler.
package dockerbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/masteryhub/grader/sandbox"
)

const (
	workDir   = "/box"
	pidsLimit = 64

	// nobodyID owns the work directory so the unprivileged container
	// user can write its scratch files.
	nobodyID = 65534
)

// Config configures the container executor.
type Config struct {
	// Image is the interpreter image, e.g. "python:3.12-alpine".
	Image string
	// Grace bounds how long Execute may block past the wall clock budget.
	Grace time.Duration
	// Logger, nil for no logging.
	Logger *zap.Logger
}

// Executor runs each Cmd in a fresh container.
type Executor struct {
	cli    *client.Client
	image  string
	grace  time.Duration
	logger *zap.Logger
}

// New connects to the Docker daemon from the environment.
func New(conf Config) (*Executor, error) {
	if conf.Image == "" {
		return nil, fmt.Errorf("dockerbox: image is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerbox: connect daemon: %w", err)
	}
	grace := conf.Grace
	if grace <= 0 {
		grace = time.Second
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cli: cli, image: conf.Image, grace: grace, logger: logger}, nil
}

// Execute runs c in a throwaway container. The container is force-removed
// on every path; removal failure is logged, never surfaced.
func (e *Executor) Execute(ctx context.Context, c sandbox.Cmd) sandbox.Run {
	if len(c.Args) == 0 {
		return sandbox.InternalError(fmt.Errorf("empty command"))
	}

	pl := int64(pidsLimit)
	created, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           e.image,
		Cmd:             c.Args,
		WorkingDir:      workDir,
		Env:             c.Env,
		User:            "nobody",
		NetworkDisabled: true,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     c.MemoryBytes,
			MemorySwap: c.MemoryBytes, // no swap
			PidsLimit:  &pl,
		},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		// no tmpfs over workDir: it would shadow the pre-start copy-in;
		// the throwaway container layer is the scratch space
	}, nil, nil, "")
	if err != nil {
		return sandbox.InternalError(fmt.Errorf("create container: %w", err))
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Warn("container remove failed", zap.String("id", id), zap.Error(err))
		}
	}()

	if err := e.copyIn(ctx, id, c.CopyIn); err != nil {
		return sandbox.InternalError(err)
	}

	attach, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return sandbox.InternalError(fmt.Errorf("attach container: %w", err))
	}
	defer attach.Close()

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return sandbox.InternalError(fmt.Errorf("start container: %w", err))
	}

	go func() {
		_, _ = attach.Conn.Write([]byte(c.Stdin))
		_ = attach.CloseWrite()
	}()

	// ContainerKill is the SIGKILL path for both the wall clock
	// watchdog and the output collectors
	killNow := func() {
		killCtx, killCancel := context.WithTimeout(context.Background(), e.grace)
		defer killCancel()
		_ = e.cli.ContainerKill(killCtx, id, "KILL")
	}

	runCtx, cancel := context.WithTimeout(ctx, c.WallClock+e.grace)
	defer cancel()
	watchdog := time.AfterFunc(c.WallClock, killNow)
	defer watchdog.Stop()
	timedOut := func() bool {
		return !watchdog.Stop()
	}

	var stdout, stderr bytes.Buffer
	outW := newLimitWriter(&stdout, c.MaxOutputBytes, killNow)
	errW := newLimitWriter(&stderr, c.MaxOutputBytes, killNow)
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(outW, errW, attach.Reader)
		copyDone <- err
	}()

	waitCh, errCh := e.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	var exitCode int64 = -1
	select {
	case w := <-waitCh:
		if w.Error != nil {
			return sandbox.InternalError(fmt.Errorf("container wait: %s", w.Error.Message))
		}
		exitCode = w.StatusCode
	case err := <-errCh:
		if runCtx.Err() != nil {
			// killed by the watchdog or cancelled
			break
		}
		return sandbox.InternalError(fmt.Errorf("container wait: %w", err))
	}
	duration := time.Since(start)

	select {
	case <-copyDone:
	case <-time.After(e.grace):
	}

	run := sandbox.Run{
		ExitCode: int(exitCode),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	overflow := outW.exceeded.Load() || errW.exceeded.Load()

	switch {
	case overflow:
		run.Status = sandbox.StatusKilledOutputOverflow
	case timedOut():
		run.Status = sandbox.StatusKilledTimeout
	case exitCode == 137 && duration < c.WallClock:
		// SIGKILL without the watchdog firing: the kernel OOM killer
		run.Status = sandbox.StatusKilledMemory
	case exitCode == 0:
		run.Status = sandbox.StatusNormal
	default:
		run.Status = sandbox.StatusRuntimeError
	}
	return run
}

// copyIn lands the work directory in the stopped container. It always
// ships the directory entry itself: the container runs as nobody, so the
// scratch dir must be owned by nobody or the submission cannot write.
func (e *Executor) copyIn(ctx context.Context, id string, files map[string][]byte) error {
	buf, err := buildWorkDirTar(files)
	if err != nil {
		return fmt.Errorf("copy in: %w", err)
	}
	if err := e.cli.CopyToContainer(ctx, id, "/", buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy in: %w", err)
	}
	return nil
}

// buildWorkDirTar archives workDir and its files, all owned by nobody.
func buildWorkDirTar(files map[string][]byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	dir := strings.TrimPrefix(workDir, "/")
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0o755,
		Uid:      nobodyID,
		Gid:      nobodyID,
	}); err != nil {
		return nil, err
	}
	for name, content := range files {
		hdr := &tar.Header{
			Name: dir + "/" + strings.TrimPrefix(name, "/"),
			Mode: 0o644,
			Uid:  nobodyID,
			Gid:  nobodyID,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// limitWriter keeps at most limit bytes and discards the rest. The first
// byte over the limit fires onLimit once, so the producer is killed
// instead of streaming into the void.
type limitWriter struct {
	w        *bytes.Buffer
	limit    int64
	written  int64
	exceeded atomic.Bool
	onLimit  func()
	once     sync.Once
}

func newLimitWriter(w *bytes.Buffer, limit int64, onLimit func()) *limitWriter {
	return &limitWriter{w: w, limit: limit, onLimit: onLimit}
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	n := int64(len(p))
	if n > remaining {
		n = remaining
		lw.exceeded.Store(true)
		if lw.onLimit != nil {
			lw.once.Do(lw.onLimit)
		}
	}
	if n > 0 {
		lw.w.Write(p[:n])
		lw.written += n
	}
	return len(p), nil
}
