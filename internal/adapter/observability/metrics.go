package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs that passed the processing stage",
		},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs that failed, by stage and reason",
		},
		[]string{"stage", "reason"},
	)
	JobsSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_saved_total",
			Help: "Total number of jobs persisted as new records",
		},
	)
	JobsDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_duplicates_total",
			Help: "Total number of jobs rejected by the store as duplicates",
		},
	)
	StageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Per-stage job handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"stage"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current length of the durable queue lists",
		},
		[]string{"list"},
	)
	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_restarts_total",
			Help: "Total number of panicked workers replaced by the supervisor",
		},
		[]string{"stage"},
	)
	PushSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_subscribers",
			Help: "Number of connected push-channel subscribers",
		},
	)
	PushMessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_messages_dropped_total",
			Help: "Broadcast messages dropped because a subscriber buffer was full",
		},
	)
)

// InitMetrics registers all Prometheus collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsSavedTotal)
	prometheus.MustRegister(JobsDuplicatesTotal)
	prometheus.MustRegister(StageLatency)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(PushSubscribers)
	prometheus.MustRegister(PushMessagesDroppedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
