// Package httpapi exposes the analysis engine over HTTP: store metadata, batch
// and streaming analysis runs, and the R/I/S breakdown and community trend used
// by the dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
	"github.com/rewired-gh/amrwatch/internal/storage"
)

// Store is the read-only data source behind the API.
type Store interface {
	analysis.Fetcher
	Ping(ctx context.Context) error
	Metadata(ctx context.Context) (*storage.Metadata, error)
	Events(ctx context.Context, f storage.EventFilter) ([]models.TestEvent, error)
}

// Server routes API requests to the store and the analysis runner.
type Server struct {
	router   *chi.Mux
	store    Store
	runner   *analysis.Runner
	defaults analysis.Params
}

// NewServer creates a Server. defaults fill analysis parameters the request
// leaves out; concurrency sizes the worker pool of batch runs.
func NewServer(store Store, defaults analysis.Params, concurrency int) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		store:    store,
		runner:   analysis.NewRunner(store, concurrency),
		defaults: defaults,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/metadata", s.handleMetadata)
		r.Get("/analysis", s.handleAnalysis)
		r.Get("/analysis/stream", s.handleAnalysisStream)
		r.Get("/ris", s.handleBreakdown)
		r.Get("/trend", s.handleTrend)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s %d %dB %v [%s]", r.Method, r.URL.RequestURI(), ww.Status(), ww.BytesWritten(),
			time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// statusOf maps an error onto the response status: bad parameters are the
// client's fault, store failures an upstream one.
func statusOf(err error) int {
	var storeErr *analysis.StoreError
	switch {
	case errors.Is(err, analysis.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.As(err, &storeErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
