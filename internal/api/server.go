// Package api exposes the HTTP control surface: job creation and control,
// item browsing, and the operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/shelfminer/shelfminer/internal/metrics"
)

// Config controls server-level behavior.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the stores and the job launcher.
type Server struct {
	router   chi.Router
	jobs     jobs.Store
	catalog  jobs.CatalogStore
	launcher *jobs.Launcher
	idGen    jobs.IDGenerator
	clock    jobs.Clock
	logger   *zap.Logger
	ready    func() bool
}

// NewServer constructs a Server with middleware and routes. ready reports
// whether downstream dependencies are reachable; nil means always ready.
func NewServer(
	jobStore jobs.Store,
	catalogStore jobs.CatalogStore,
	launcher *jobs.Launcher,
	idGen jobs.IDGenerator,
	clock jobs.Clock,
	cfg Config,
	logger *zap.Logger,
	ready func() bool,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:     jobStore,
		catalog:  catalogStore,
		launcher: launcher,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		ready:    ready,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/crawl", s.createCrawlJob)
			r.Post("/label", s.createLabelJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
			})
		})
		r.Post("/history/clear", s.clearHistory)
		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.listItems)
			r.Get("/export.csv", s.exportItemsCSV)
			r.Get("/{item_id}", s.getItem)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
