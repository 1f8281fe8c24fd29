package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/masteryhub/grader/worker"
)

const metricsNamespace = "graderd"

var (
	// 1ms -> 10s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.008, 0.010, 0.025, 0.050, 0.075, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10,
	}

	metricsSummaryQuantile = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

	gradeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "grade_total",
		Help:      "Number of grading requests completed",
	}, []string{"status"})

	gradeTimeHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "grade_time_seconds",
		Help:      "Histogram for the grading time",
		Buckets:   timeBuckets,
	}, []string{"status"})

	gradeScoreSummary = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "grade_score",
		Help:       "Summary for awarded scores",
		Objectives: metricsSummaryQuantile,
	})

	rejectCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "reject_total",
		Help:      "Number of submissions rejected by admission control or rate limiting",
	}, []string{"reason"})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_depth",
		Help:      "Number of grading requests currently queued",
	})
)

func init() {
	prometheus.MustRegister(gradeCount, gradeTimeHist, gradeScoreSummary, rejectCount, queueDepthGauge)
}

// execObserve records one finished grading request.
func execObserve(resp worker.Response) {
	if resp.Result == nil {
		return
	}
	status := resp.Result.OverallStatus.String()
	gradeCount.WithLabelValues(status).Inc()
	d := time.Duration(resp.Result.TotalDurationMS) * time.Millisecond
	gradeTimeHist.WithLabelValues(status).Observe(d.Seconds())
	gradeScoreSummary.Observe(float64(resp.Result.Score))
}

// metricsWorker wraps the scheduler to count admission rejections.
type metricsWorker struct {
	worker.Worker
}

func newMetricsWorker(w worker.Worker) worker.Worker {
	return &metricsWorker{w}
}

func (m *metricsWorker) Submit(ctx context.Context, req *worker.Request) (<-chan worker.Response, error) {
	ch, err := m.Worker.Submit(ctx, req)
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		rejectCount.WithLabelValues("queue_full").Inc()
	case errors.Is(err, worker.ErrCallerBusy):
		rejectCount.WithLabelValues("caller_busy").Inc()
	}
	return ch, err
}

// pollQueueDepth keeps the queue depth gauge current.
func pollQueueDepth(w worker.Worker, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			queueDepthGauge.Set(float64(w.QueueDepth()))
		}
	}()
}
