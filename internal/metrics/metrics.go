// Package metrics provides Prometheus instrumentation for the moderation
// pipeline. It exposes counters for task outcomes, retries, dead letters,
// and cache traffic, plus a histogram for per-task processing time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksProcessed counts tasks the worker finished, labeled by outcome:
	// "completed", "failed_permanent", or "failed_exhausted".
	TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepost_moderation_tasks_total",
		Help: "Total number of moderation tasks processed",
	}, []string{"outcome"})

	// TaskRetries counts attempts that were retried after a transient error.
	TaskRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradepost_moderation_retries_total",
		Help: "Total number of retried moderation attempts",
	})

	// DeadLetters counts messages published to the dead-letter subject.
	DeadLetters = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradepost_moderation_dead_letters_total",
		Help: "Total number of messages sent to the dead-letter subject",
	})

	// LostTerminalWrites counts terminal status updates and dead-letter
	// publishes that failed and were dropped after logging.
	LostTerminalWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradepost_moderation_lost_terminal_writes_total",
		Help: "Terminal task transitions that could not be persisted or dead-lettered",
	})

	// CacheRequests counts prediction-cache lookups, labeled by keyspace
	// ("item", "features", "result") and outcome ("hit", "miss", "error").
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepost_cache_requests_total",
		Help: "Prediction cache lookups by keyspace and outcome",
	}, []string{"keyspace", "outcome"})

	// InflightTasks tracks messages currently being processed by this worker.
	InflightTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradepost_moderation_inflight_tasks",
		Help: "Messages currently being processed",
	})

	// TaskDuration records end-to-end processing time per consumed task,
	// including retry backoff.
	TaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradepost_moderation_task_duration_seconds",
		Help:    "Time to fully process one consumed moderation task",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(
		TasksProcessed,
		TaskRetries,
		DeadLetters,
		LostTerminalWrites,
		CacheRequests,
		InflightTasks,
		TaskDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
