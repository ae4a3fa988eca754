// Package server реализует JSON HTTP API для прогонов, запросов покрытия и текущего положения.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/art-injener/satscan-go/internal/celestrak"
	"github.com/art-injener/satscan-go/internal/config"
	"github.com/art-injener/satscan-go/internal/metrics"
	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

// Маршруты.
const (
	healthzPath = "/healthz"
	metricsPath = "/metrics"
	trackPath   = "/api/v1/track"
	scanPath    = "/api/v1/scan"
	livePath    = "/api/v1/live"
	exportPath  = "/api/v1/export"

	// maxBodyBytes ограничивает размер тела запроса.
	maxBodyBytes = 1 << 20
)

// TLESource загружает TLE по каталожному номеру.
type TLESource interface {
	Fetch(ctx context.Context, noradID int) (*tracker.TLE, celestrak.Origin, error)
}

// Server HTTP сервер API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	runner     *simulation.Runner
	base       simulation.Request
	maxSamples int
	source     TLESource
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option функция настройки сервера.
type Option func(*Server)

// WithSource подключает загрузку TLE по norad_id.
func WithSource(src TLESource) Option {
	return func(s *Server) {
		s.source = src
	}
}

// WithMetrics подключает метрики и маршрут /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger логгер для сервера.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer создаёт сервер. base задаёт параметры окна, которые запрос может переопределить.
func NewServer(cfg config.ServerConfig, runner *simulation.Runner, base simulation.Request, opts ...Option) *Server {
	s := &Server{
		runner:     runner,
		base:       base,
		maxSamples: cfg.MaxSamples,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.maxSamples <= 0 {
		s.maxSamples = config.DefaultMaxSamples
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthzPath, s.handleHealthz)
	mux.HandleFunc("POST "+trackPath, s.handleTrack)
	mux.HandleFunc("POST "+scanPath, s.handleScan)
	mux.HandleFunc("POST "+livePath, s.handleLive)
	mux.HandleFunc("POST "+exportPath, s.handleExport)

	// Цепочка middleware: metrics -> logging -> mux.
	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	if s.metrics != nil {
		mux.Handle("GET "+metricsPath, s.metrics.Handler())
		handler = s.metrics.Middleware(handler)
	}

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler возвращает корневой обработчик со всеми middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe запускает сервер.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			// Пробы и скрейпы не засоряют лог на уровне INFO
			level := slog.LevelInfo
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
