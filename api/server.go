package api

import (
	"context"
	"net/http"
	"time"
)

// Server represents the HTTP server of the build service.
type Server struct {
	store      *BuildStore
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a new Server instance.
func NewServer(addr string, opts Options) *Server {
	store := NewBuildStore()
	handlers := NewHandlers(store, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/builds", handlers.HandleStartBuild)
	mux.HandleFunc("GET /api/v1/builds/{id}", handlers.HandleGetStatus)
	mux.HandleFunc("POST /api/v1/builds/{id}/abort", handlers.HandleAbort)
	mux.HandleFunc("GET /api/v1/builds/{id}/document", handlers.HandleGetDocument)

	return &Server{
		store:    store,
		handlers: handlers,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server.
// Blocks until the server is stopped or an error occurs.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
// Cancels all active builds and waits for them before shutting down HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	if cancelled := s.store.CancelAll(); cancelled > 0 {
		// Wait for builds to finish (use half the context deadline for this)
		if deadline, ok := ctx.Deadline(); ok {
			if waitTimeout := time.Until(deadline) / 2; waitTimeout > 0 {
				s.store.WaitAll(waitTimeout)
			}
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Store returns the BuildStore for testing purposes.
func (s *Server) Store() *BuildStore {
	return s.store
}

// Handlers returns the Handlers for testing purposes.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}
