package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "loremind"

// metrics holds the Prometheus collectors of one server. Each server owns
// its registry so several servers can live in one process.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(ingestUC IngestUseCase) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counters := []struct {
		name string
		help string
		get  func(IngestUseCase) int64
	}{
		{"ingest_turns_ingested_total", "Turns stored as memories", func(uc IngestUseCase) int64 { return uc.Stats().Ingested }},
		{"ingest_turns_duplicate_total", "Turns already stored", func(uc IngestUseCase) int64 { return uc.Stats().Duplicates }},
		{"ingest_turns_skipped_total", "Turns too short to store", func(uc IngestUseCase) int64 { return uc.Stats().Skipped }},
		{"ingest_failures_total", "Failed ingestions", func(uc IngestUseCase) int64 { return uc.Stats().Failures }},
		{"ingest_context_entries_total", "Context entries stored by initialization", func(uc IngestUseCase) int64 { return uc.Stats().Resynced }},
	}
	for _, c := range counters {
		get := c.get
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 {
			return float64(get(ingestUC))
		}))
	}

	return m
}

// middleware records request count and latency by route pattern
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
