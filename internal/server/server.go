// Package server provides the HTTP API for the Flowport knowledge service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/flowport/flowport/internal/config"
	"github.com/flowport/flowport/internal/knowledge"
	"github.com/flowport/flowport/internal/retrieval"
)

// Server is the HTTP server for the knowledge API.
type Server struct {
	manager *knowledge.Manager
	engine  *retrieval.Engine
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(manager *knowledge.Manager, engine *retrieval.Engine, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		manager: manager,
		engine:  engine,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Get("/", s.handleListKnowledgeBases)
			r.Post("/", s.handleCreateKnowledgeBase)
			r.Post("/auto-build", s.handleAutoBuild)
			r.Post("/attachments", s.handleAttachments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetKnowledgeBase)
				r.Delete("/", s.handleDeleteKnowledgeBase)
				r.Post("/ingest/text", s.handleIngestText)
				r.Post("/ingest/file", s.handleIngestFile)
				r.Post("/query", s.handleQuery)
				r.Get("/documents/{docID}", s.handleGetDocument)
				r.Get("/documents/{docID}/file", s.handleDownloadDocumentFile)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
