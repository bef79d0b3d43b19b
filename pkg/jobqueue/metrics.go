package jobqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

var (
	metricJobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchq",
		Name:      "jobs_dispatched_total",
		Help:      "Number of items handed to a processor.",
	})
	metricJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "batchq",
		Name:      "jobs_completed_total",
		Help:      "Number of items that reported completion, by outcome.",
	}, []string{"outcome"})
	metricJobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "batchq",
		Name:      "jobs_in_flight",
		Help:      "Items dispatched but not yet completed.",
	})
	metricJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "batchq",
		Name:      "job_duration_seconds",
		Help:      "Time from dispatch to completion of one item.",
		Buckets:   prometheus.DefBuckets,
	})
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "batchq",
		Name:      "runs_total",
		Help:      "Number of finished runs, by outcome.",
	}, []string{"outcome"})
)

func outcomeOf(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeSuccess
}

func recordDispatch() {
	metricJobsDispatched.Inc()
	metricJobsInFlight.Inc()
}

func recordCompletion(err error, elapsed time.Duration) {
	metricJobsInFlight.Dec()
	metricJobsCompleted.WithLabelValues(outcomeOf(err)).Inc()
	metricJobDuration.Observe(elapsed.Seconds())
}

func recordRun(err error) {
	metricRuns.WithLabelValues(outcomeOf(err)).Inc()
}
