// Package worker owns the grading scheduler: a bounded pool of execution
// slots with admission control in front of it. Requests are either accepted
// into a bounded FIFO queue or rejected immediately with a distinct error;
// accepted work is graded asynchronously and delivered on a buffered result
// channel. One caller's requests are processed in submission order; across
// callers no ordering is guaranteed beyond the per-caller fairness cap.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/harness"
)

// Rejection errors returned by Submit. They are surfaced to the caller as
// "try again" conditions and are never recorded as grading attempts.
var (
	// ErrQueueFull means the global queue is at capacity.
	ErrQueueFull = errors.New("grading queue is full")
	// ErrCallerBusy means the caller already has its allowed number of
	// requests queued or running.
	ErrCallerBusy = errors.New("caller has too many grading requests in flight")
	// ErrNotStarted means Submit was called before Start.
	ErrNotStarted = errors.New("scheduler not started")
)

// Grader grades one submission; implemented by harness.Harness.
type Grader interface {
	Grade(ctx context.Context, ex *exercise.Exercise, code string, obs harness.Observer) *harness.GradingResult
}

// Request is one grading submission.
type Request struct {
	RequestID string
	CallerID  string
	Exercise  *exercise.Exercise
	Code      string

	// Observer receives per-test progress for this request; may be nil.
	Observer harness.Observer
}

// Response carries the grading outcome for one request.
type Response struct {
	RequestID string
	CallerID  string
	Result    *harness.GradingResult
}

// Config configures a scheduler.
type Config struct {
	// Parallelism is the number of grading slots (W).
	Parallelism int
	// QueueDepth is the bound on queued requests (Q).
	QueueDepth int
	// PerCallerCap is the number of requests one caller may have queued or
	// running at once (K).
	PerCallerCap int
	// Grader performs the actual grading.
	Grader Grader
	// Logger, nil for no logging.
	Logger *zap.Logger
	// ExecObserver, if set, is called with every response (for metrics).
	ExecObserver func(Response)
}

// Worker is the scheduler's public surface.
type Worker interface {
	Start()
	// Submit applies admission control and either enqueues the request,
	// returning a channel that will receive exactly one Response, or
	// rejects it with ErrQueueFull / ErrCallerBusy.
	Submit(ctx context.Context, req *Request) (<-chan Response, error)
	// QueueDepth reports the number of queued (not yet running) requests.
	QueueDepth() int
	Shutdown()
}

type workRequest struct {
	*Request
	ctx      context.Context
	resultCh chan<- Response
}

type worker struct {
	parallelism  int
	queueDepth   int
	perCallerCap int
	grader       Grader
	logger       *zap.Logger
	execObserver func(Response)

	// admission state: the only mutable shared state, a single lock,
	// O(1) decisions, no I/O while holding it
	mu       sync.Mutex
	queued   int
	inFlight map[string]int

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	workCh    chan workRequest
	done      chan struct{}
}

// New creates a scheduler from conf. Non-positive knobs fall back to safe
// defaults (parallelism 4, queue 64, per-caller cap 1).
func New(conf Config) Worker {
	if conf.Parallelism <= 0 {
		conf.Parallelism = 4
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 64
	}
	if conf.PerCallerCap <= 0 {
		conf.PerCallerCap = 1
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &worker{
		parallelism:  conf.Parallelism,
		queueDepth:   conf.QueueDepth,
		perCallerCap: conf.PerCallerCap,
		grader:       conf.Grader,
		logger:       logger,
		execObserver: conf.ExecObserver,
		inFlight:     make(map[string]int),
	}
	// queued + running never exceeds queueDepth + parallelism, so the
	// channel send in Submit can never block
	w.workCh = make(chan workRequest, w.queueDepth+w.parallelism)
	return w
}

// Start launches the grading slots.
func (w *worker) Start() {
	w.startOnce.Do(func() {
		w.done = make(chan struct{})
		w.wg.Add(w.parallelism)
		for i := 0; i < w.parallelism; i++ {
			go w.loop()
		}
	})
}

// Shutdown waits for in-flight grading to finish.
func (w *worker) Shutdown() {
	w.stopOnce.Do(func() {
		if w.done != nil {
			close(w.done)
		}
		w.wg.Wait()
	})
}

func (w *worker) Submit(ctx context.Context, req *Request) (<-chan Response, error) {
	if w.done == nil {
		return nil, ErrNotStarted
	}

	w.mu.Lock()
	if w.queued >= w.queueDepth {
		w.mu.Unlock()
		return nil, ErrQueueFull
	}
	if w.inFlight[req.CallerID] >= w.perCallerCap {
		w.mu.Unlock()
		return nil, ErrCallerBusy
	}
	w.queued++
	w.inFlight[req.CallerID]++
	w.mu.Unlock()

	ch := make(chan Response, 1)
	w.workCh <- workRequest{Request: req, ctx: ctx, resultCh: ch}
	return ch, nil
}

func (w *worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queued
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case wr := <-w.workCh:
			w.mu.Lock()
			w.queued--
			w.mu.Unlock()

			w.grade(wr)
			w.release(wr.CallerID)
		case <-w.done:
			return
		}
	}
}

func (w *worker) release(callerID string) {
	w.mu.Lock()
	if w.inFlight[callerID] <= 1 {
		delete(w.inFlight, callerID)
	} else {
		w.inFlight[callerID]--
	}
	w.mu.Unlock()
}

func (w *worker) grade(wr workRequest) {
	var result *harness.GradingResult
	if wr.ctx.Err() != nil {
		// cancelled while queued: removed with no side effects
		result = harness.Aggregate(wr.Exercise, nil, false, true, 0)
	} else {
		result = w.grader.Grade(wr.ctx, wr.Exercise, wr.Code, wr.Observer)
	}

	resp := Response{
		RequestID: wr.RequestID,
		CallerID:  wr.CallerID,
		Result:    result,
	}
	w.logger.Debug("grading finished",
		zap.String("request_id", wr.RequestID),
		zap.String("caller_id", wr.CallerID),
		zap.String("exercise", wr.Exercise.ID),
		zap.String("status", result.OverallStatus.String()),
		zap.Int("score", result.Score))
	if w.execObserver != nil {
		w.execObserver(resp)
	}
	wr.resultCh <- resp
}
