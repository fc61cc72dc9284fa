// Package server exposes the audio library, blob uploads and server-side
// thumbnail rendering over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/menta2k/audioshelf/internal/blob"
	"github.com/menta2k/audioshelf/internal/config"
	"github.com/menta2k/audioshelf/internal/store"
	"github.com/menta2k/audioshelf/internal/upload"
	"github.com/menta2k/audioshelf/pkg/editor"
	"github.com/menta2k/audioshelf/pkg/loader"
	"github.com/menta2k/audioshelf/pkg/processing"
)

// ShutdownTimeout bounds how long in-flight requests may run after the
// server is asked to stop.
const ShutdownTimeout = 5 * time.Second

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Audios    *store.AudioRepository
	Blobs     *blob.Store
	Uploads   *upload.Authorizer
	Loader    *loader.Loader
	Processor *processing.Processor
	// Suggester enables "auto" thumbnail crops. Optional.
	Suggester editor.Suggester
	Logger    *log.Logger
}

// Server serves the HTTP API.
type Server struct {
	config *config.Config
	deps   Deps
	logger *log.Logger
	router chi.Router
}

// New creates a server and registers its routes.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Audios == nil || deps.Blobs == nil || deps.Uploads == nil {
		return nil, fmt.Errorf("audio repository, blob store and upload authorizer are required")
	}
	if deps.Loader == nil {
		deps.Loader = loader.New()
	}
	if deps.Processor == nil {
		deps.Processor = processing.NewProcessorWithConfig(processing.Config{PreviewMaxDim: cfg.Editor.PreviewMaxDim})
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/audio", s.handleListAudio)
	r.Get("/api/audio/{id}", s.handleGetAudio)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/api/audio", s.handleCreateAudio)
		r.Put("/api/audio/{id}", s.handleUpdateAudio)
		r.Delete("/api/audio/{id}", s.handleDeleteAudio)
		r.Post("/api/upload", s.handleAuthorizeUpload)
		r.Post("/api/thumbnails", s.handleRenderThumbnail)
	})

	r.Put("/blobs/*", s.handlePutBlob)
	r.Get("/blobs/*", s.handleGetBlob)
	r.Head("/blobs/*", s.handleGetBlob)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, s.logger, notFound("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})
	return r
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout.Duration,
		WriteTimeout: s.config.Server.WriteTimeout.Duration,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.config.Server.MaxUploadMB
	if mb <= 0 {
		mb = 50
	}
	return int64(mb) << 20
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
