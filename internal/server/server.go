package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/n0madic/go-mnmlgate/internal/config"
	"github.com/n0madic/go-mnmlgate/internal/history"
	"github.com/n0madic/go-mnmlgate/internal/pipeline"
	"github.com/n0madic/go-mnmlgate/internal/tools"
)

// maxBodyBytes limits the size of incoming request bodies, uploads included.
const maxBodyBytes = 32 * 1024 * 1024 // 32 MB

// Options carries the collaborators a Server routes to.
type Options struct {
	Registry *tools.Registry
	Upstream pipeline.Invoker
	History  *history.Service
}

// Server is the main HTTP server.
type Server struct {
	Config     *config.ServerConfig
	Registry   *tools.Registry
	Pipeline   *pipeline.Pipeline
	History    *history.Service
	handler    http.Handler
	httpServer *http.Server
}

// New creates a new server with all routes registered.
func New(cfg *config.ServerConfig, opts Options) *Server {
	s := &Server{
		Config:   cfg,
		Registry: opts.Registry,
		Pipeline: pipeline.New(opts.Registry, opts.Upstream),
		History:  opts.History,
	}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)

	// Tool routes
	mux.HandleFunc("POST /mnml/run", s.handleRun)
	mux.HandleFunc("POST /generate-image", s.handleGenerateImage)
	mux.HandleFunc("POST /virtual-staging", s.handleVirtualStaging)
	mux.HandleFunc("POST /imagine-ai", s.handleImagine)
	mux.HandleFunc("POST /prompt-generator", s.handlePromptGenerator)
	mux.HandleFunc("POST /video-ai", s.handleVideo)
	mux.HandleFunc("GET /get-result/{job_id}", s.handleGetResult)

	// History routes
	mux.HandleFunc("POST /image-history/save", s.handleHistorySave)
	mux.HandleFunc("POST /image-history/get", s.handleHistoryGet)
	mux.HandleFunc("POST /image-history/delete", s.handleHistoryDelete)

	s.handler = corsMiddleware(requestIDMiddleware(verboseMiddleware(cfg, debugMiddleware(cfg, mux))))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and closes the history store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.History != nil && s.History.Store != nil {
		if cerr := s.History.Store.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
