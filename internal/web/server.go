package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facewatch/internal/attendance"
	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/session"
	"github.com/kozaktomas/facewatch/internal/web/handlers"
	"github.com/kozaktomas/facewatch/internal/web/middleware"
)

// Dependencies are the components the HTTP surface drives.
type Dependencies struct {
	Session  *session.Session
	Gallery  *database.Gallery
	Store    database.RecordReader // optional
	Collator *attendance.Collator
	Embedder handlers.EmbedderHealth // optional
	Log      logs.Log
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Dependencies
	log        logs.Log
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		log:    deps.Log,
		router: r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// feeds stay open for the whole stream run
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Infof("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops the running stream so open feeds end, then shuts the
// server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infof("Shutting down web server...")

	if s.deps.Session != nil && s.deps.Session.IsRunning() {
		if err := s.deps.Session.Stop(ctx); err != nil {
			s.log.Warnf("Stopping stream: %v", err)
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
