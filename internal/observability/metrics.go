package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	reservations    prometheus.Counter
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_total",
		Help: "Background job runs by job name and outcome.",
	}, []string{"job", "status"})
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_tasks_completed_total",
		Help: "Warehouse tasks completed by task type.",
	}, []string{"type"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_stock_adjustments_total",
		Help: "Stock adjustments posted by reason.",
	}, []string{"reason"})
	reservations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_reservations_total",
		Help: "Stock reservations placed.",
	})
	registry.MustRegister(requests, duration, jobs, tasks, adjustments, reservations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		jobsTotal:       jobs,
		tasksCompleted:  tasks,
		adjustments:     adjustments,
		reservations:    reservations,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordJob counts one background job run.
func (m *Metrics) RecordJob(job, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(job, status).Inc()
}

// RecordTaskCompleted counts one completed warehouse task.
func (m *Metrics) RecordTaskCompleted(taskType string) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(taskType).Inc()
}

// RecordAdjustment counts one posted stock adjustment.
func (m *Metrics) RecordAdjustment(reason string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(reason).Inc()
}

// RecordReservation counts one placed reservation.
func (m *Metrics) RecordReservation() {
	if m == nil {
		return
	}
	m.reservations.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
