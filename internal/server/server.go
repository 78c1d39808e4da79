// Package server exposes the memory engine over HTTP.
//
// Endpoints:
//
//	GET  /health         → {status, memu_initialized}
//	POST /retrieve       → RetrieveRequest → {items: [{summary, category, metadata}]}
//	POST /memorize       → MemorizeRequest → {success, memory_id}
//	POST /memorize-file  → ?user_id=&file_path=&modality= → {success, memory_id}
//
// The engine may be absent when it could not be built at startup. Data
// endpoints then answer 503 without touching it; /health keeps working and
// reports memu_initialized=false.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bdobrica/memu-wrapper/internal/memory"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests.
const shutdownTimeout = 30 * time.Second

// Engine is the part of memory.Service the HTTP layer depends on.
type Engine interface {
	Retrieve(ctx context.Context, queries []memory.Query, where map[string]string) (*memory.RetrieveResult, error)
	Memorize(ctx context.Context, resourceURL, modality string, user map[string]string) (*memory.MemorizeResult, error)
}

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8000".
	Addr string

	// AllowedOrigins lists the origins allowed by CORS. Credentials are
	// allowed for these origins.
	AllowedOrigins []string

	// TempDir receives the files written for inline memorize content.
	// Defaults to os.TempDir().
	TempDir string
}

// Server serves the wrapper API. Create it with New.
type Server struct {
	engine  Engine
	cfg     Config
	mux     *http.ServeMux
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// New builds the server. A nil engine marks the memory service as
// unavailable for the lifetime of the server.
func New(engine Engine, cfg Config) *Server {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	s := &Server{
		engine: engine,
		cfg:    cfg,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	s.mux.HandleFunc("POST /memorize", s.handleMemorize)
	s.mux.HandleFunc("POST /memorize-file", s.handleMemorizeFile)

	s.handler = withTrace(withCORS(s.mux, cfg.AllowedOrigins))
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// bound so callers know the port is open. The server shuts down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Memorize waits on the LLM for every extracted item.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts down the HTTP server. It is safe to call more than
// once and from several goroutines: every call returns only after in-flight
// requests have drained (or the drain timeout expired).
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return
	}
	// Concurrent callers block in Do until the first shutdown returns.
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	})
}
