package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"mlsync/internal/config"
	"mlsync/internal/connector"
	"mlsync/internal/reconcile"
	"mlsync/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server exposes the dashboard REST API: job management, queue stats,
// and SKU mapping operations.
type Server struct {
	cfg       config.APIConfig
	scheduler *scheduler.Scheduler
	engine    *reconcile.Engine
	registry  *connector.Registry
	logger    *zerolog.Logger
	handler   http.Handler
	server    *http.Server
}

func NewServer(cfg config.APIConfig, sched *scheduler.Scheduler, engine *reconcile.Engine, registry *connector.Registry, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		scheduler: sched,
		engine:    engine,
		registry:  registry,
		logger:    logger,
	}

	s.handler = s.buildRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Routes returns the assembled handler. Exposed for httptest.
func (s *Server) Routes() http.Handler {
	return s.handler
}

func (s *Server) buildRoutes() http.Handler {
	auth := NewHTTPAuth(s.cfg)

	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))
	r.Use(auth.Wrap)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/jobs", s.handleEnqueueJob)
			r.Get("/jobs", s.handleListJobs)
			r.Post("/jobs/bulk", s.handleBulkEnqueue)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Delete("/jobs/{jobID}", s.handleCancelJob)
			r.Post("/integrations/{integrationID}/sync/{syncType}", s.handleQuickSync)
			r.Get("/queue/stats", s.handleStats)
		})

		r.Route("/sku-mapping", func(r chi.Router) {
			r.Get("/report", s.handleMappingReport)
			r.Get("/report/export", s.handleMappingExport)
			r.Get("/suggest/{supplierSKU}", s.handleSuggest)
			r.Post("/", s.handleCreateMapping)
			r.Post("/bulk", s.handleBulkMappings)
		})

		r.Get("/integrations", s.handleListIntegrations)
	})

	return r
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
