// Package metrics собирает Prometheus-метрики прогонов и HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/art-injener/satscan-go/internal/simulation"
)

const namespace = "satscan"

// knownRoutes маршруты API; остальные пути сводятся к "other".
var knownRoutes = map[string]bool{
	"/healthz":       true,
	"/metrics":       true,
	"/api/v1/track":  true,
	"/api/v1/scan":   true,
	"/api/v1/live":   true,
	"/api/v1/export": true,
}

// Metrics набор коллекторов на собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runFailures   *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	samplesTotal  prometheus.Counter
	failuresTotal *prometheus.CounterVec
	matchesTotal  prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New создаёт и регистрирует коллекторы. withRuntime добавляет метрики Go-рантайма и процесса.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of simulation runs by status.",
			},
			[]string{"status"},
		),
		runFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_failures_total",
				Help:      "Total number of failed simulation runs by reason.",
			},
			[]string{"reason"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Simulation run duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"model"},
		),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of propagated ground-track samples.",
		}),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sample_failures_total",
				Help:      "Total number of failed samples by reason.",
			},
			[]string{"reason"},
		),
		matchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_matches_total",
			Help:      "Total number of footprints containing the query point.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"path", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runFailures,
		m.runDuration,
		m.samplesTotal,
		m.failuresTotal,
		m.matchesTotal,
		m.httpRequests,
		m.httpDuration,
	)

	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// RunCompleted учитывает успешный прогон.
func (m *Metrics) RunCompleted(stats simulation.RunStats) {
	m.runsTotal.WithLabelValues("ok").Inc()
	m.runDuration.WithLabelValues(stats.Model).Observe(stats.Duration.Seconds())
	m.samplesTotal.Add(float64(stats.Samples))
	m.matchesTotal.Add(float64(stats.Matches))

	for reason, n := range stats.Failures {
		m.failuresTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RunFailed учитывает прогон, завершившийся ошибкой.
func (m *Metrics) RunFailed(reason string) {
	m.runsTotal.WithLabelValues("error").Inc()
	m.runFailures.WithLabelValues(reason).Inc()
}

// Handler возвращает HTTP-обработчик метрик.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// responseWriter перехватывает код ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware считает запросы и их длительность.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		code := strconv.Itoa(rw.statusCode)

		m.httpRequests.WithLabelValues(route, r.Method, code).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// normalizeRoute ограничивает кардинальность метки path.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}

	return "other"
}
