package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_jobs_submitted_total", Help: "Jobs accepted for async processing"})
	PollCounter       = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_polls_total", Help: "Result polls served"})
	WorkerInvocations = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_worker_invocations_total", Help: "Calls made to the external worker"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_worker_failures_total", Help: "Worker calls that ended in a stored error"})
	LockContention    = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_lock_contention_total", Help: "Polls that lost the trigger lock race"})
	DeadlineFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_deadline_fallbacks_total", Help: "Synthetic delayed responses served past the answer deadline"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	JobsInFlight      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "gateway_jobs_inflight", Help: "Jobs currently holding a trigger lock"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionCounter,
			PollCounter,
			WorkerInvocations,
			WorkerFailures,
			LockContention,
			DeadlineFallbacks,
			RateLimitRejects,
			JobsInFlight,
		)
	})
	return promhttp.Handler()
}
