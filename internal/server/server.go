// Package server provides the HTTP API: run streaming, flow and run
// management, model discovery and local-model lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/agents"
	"github.com/hedgeworks/hedged/internal/config"
	"github.com/hedgeworks/hedged/internal/flows"
	"github.com/hedgeworks/hedged/internal/llm"
	"github.com/hedgeworks/hedged/internal/marketdata"
	"github.com/hedgeworks/hedged/internal/metrics"
	"github.com/hedgeworks/hedged/internal/ollama"
	"github.com/hedgeworks/hedged/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	Config   *config.Config
	Port     int
	DevMode  bool

	Provider marketdata.Provider
	Gateway  llm.Caller
	Ollama   *ollama.Manager
	FlowRepo *flows.FlowRepository
	RunRepo  *flows.RunRepository
	Storage  *storage.Writer
	Metrics  *metrics.Metrics

	// RecommendedManifest is the optional path to the curated local-model
	// list; the fallback set is served when empty.
	RecommendedManifest string
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	provider marketdata.Provider
	gateway  llm.Caller
	ollama   *ollama.Manager
	flowRepo *flows.FlowRepository
	runRepo  *flows.RunRepository
	storage  *storage.Writer
	metrics  *metrics.Metrics

	recommendedManifest string
}

// New creates the HTTP server with all routes wired.
func New(cfg Config) *Server {
	s := &Server{
		router:              chi.NewRouter(),
		log:                 cfg.Log.With().Str("component", "server").Logger(),
		cfg:                 cfg.Config,
		provider:            cfg.Provider,
		gateway:             cfg.Gateway,
		ollama:              cfg.Ollama,
		flowRepo:            cfg.FlowRepo,
		runRepo:             cfg.RunRepo,
		storage:             cfg.Storage,
		metrics:             cfg.Metrics,
		recommendedManifest: cfg.RecommendedManifest,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: run and download streams are long-lived SSE
		// responses and set their own per-connection deadlines via context.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/ping", s.handlePing)
	s.router.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/hedge-fund", func(r chi.Router) {
		r.Post("/run", s.handleRunStream)
		r.Get("/run/ws", s.handleRunWebSocket)
		r.Get("/agents", s.handleListAgents)
	})

	s.router.Get("/language-models", s.handleLanguageModels)
	s.router.Get("/language-models/providers", s.handleProviders)

	s.router.Route("/ollama", func(r chi.Router) {
		r.Get("/status", s.handleOllamaStatus)
		r.Post("/start", s.handleOllamaStart)
		r.Post("/stop", s.handleOllamaStop)
		r.Post("/models/download", s.handleOllamaDownload)
		r.Post("/models/download/progress", s.handleOllamaDownloadStream)
		r.Get("/models/download/progress", s.handleOllamaDownloadStream)
		r.Get("/models/download/progress/{model}", s.handleOllamaDownloadProgress)
		r.Get("/models/downloads/active", s.handleOllamaActiveDownloads)
		r.Delete("/models/download/{model}", s.handleOllamaCancelDownload)
		r.Delete("/models/{model}", s.handleOllamaDeleteModel)
		r.Get("/models/recommended", s.handleOllamaRecommended)
	})

	s.router.Route("/flows", func(r chi.Router) {
		r.Post("/", s.handleCreateFlow)
		r.Get("/", s.handleListFlows)
		r.Get("/search/{name}", s.handleSearchFlows)
		r.Route("/{flow_id}", func(r chi.Router) {
			r.Get("/", s.handleGetFlow)
			r.Put("/", s.handleUpdateFlow)
			r.Delete("/", s.handleDeleteFlow)
			r.Post("/duplicate", s.handleDuplicateFlow)

			r.Route("/runs", func(r chi.Router) {
				r.Post("/", s.handleCreateRun)
				r.Get("/", s.handleListRuns)
				r.Get("/active", s.handleActiveRun)
				r.Get("/latest", s.handleLatestRun)
				r.Get("/count", s.handleRunCount)
				r.Get("/{run_id}", s.handleGetRun)
				r.Put("/{run_id}", s.handleUpdateRunStatus)
				r.Delete("/{run_id}", s.handleDeleteRun)
			})
		})
	})

	s.router.Post("/storage/save-json", s.handleSaveJSON)
}

// newRunDeps builds the per-run agent dependency set. Each run gets a fresh
// progress bus so concurrent runs never see each other's events.
func (s *Server) newRunDeps() (agents.Deps, error) {
	if s.provider == nil || s.gateway == nil {
		return agents.Deps{}, fmt.Errorf("run pipeline is not configured")
	}
	return agents.Deps{
		Provider: s.provider,
		LLM:      s.gateway,
		Log:      s.log,
	}, nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
