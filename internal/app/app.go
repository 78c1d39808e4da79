// Package app wires configuration, the memory engine and the HTTP server
// into the memu-wrapper process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bdobrica/memu-wrapper/common/redact"
	"github.com/bdobrica/memu-wrapper/common/version"
	"github.com/bdobrica/memu-wrapper/internal/config"
	"github.com/bdobrica/memu-wrapper/internal/memory"
	"github.com/bdobrica/memu-wrapper/internal/server"
)

// App is the running service.
type App struct {
	config  *config.Config
	service *memory.Service // nil when the engine is unavailable
	server  *server.Server

	closeOnce sync.Once
}

// New builds the application. Failing to build the memory engine is not an
// error: the service still starts and reports memu_initialized=false, and
// every data endpoint answers 503. engineOpts are passed to memory.New.
func New(cfg *config.Config, engineOpts ...memory.Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	a := &App{config: cfg}
	a.service = newService(cfg, engineOpts)

	// A nil *memory.Service must not become a non-nil server.Engine.
	var engine server.Engine
	if a.service != nil {
		engine = a.service
	}
	a.server = server.New(engine, server.Config{
		Addr:           cfg.ListenAddr(),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		TempDir:        cfg.TempDir,
	})
	return a, nil
}

// newService builds the memory engine, or returns nil when it cannot.
func newService(cfg *config.Config, opts []memory.Option) *memory.Service {
	if !cfg.HasCredential() {
		slog.Warn("OPENAI_API_KEY not found. MemoryService will not be initialized.")
		return nil
	}

	profiles, err := cfg.LLMProfiles()
	if err != nil {
		slog.Error("Failed to initialize MemoryService", "err", redact.Error(err, cfg.OpenAIAPIKey))
		return nil
	}
	db, err := cfg.DatabaseConfig()
	if err != nil {
		slog.Error("Failed to initialize MemoryService", "err", redact.Error(err, cfg.OpenAIAPIKey))
		return nil
	}

	opts = append([]memory.Option{
		memory.WithTopK(cfg.RetrieveTopK),
		memory.WithLogger(slog.Default()),
	}, opts...)
	svc, err := memory.New(profiles, db, opts...)
	if err != nil {
		slog.Error("Failed to initialize MemoryService",
			"err", redact.Error(err, cfg.OpenAIAPIKey),
			"llm_profiles", config.RedactedProfiles(profiles),
			"store", db.MetadataStore.Provider,
		)
		return nil
	}

	slog.Info("MemoryService initialized successfully.",
		"store", db.MetadataStore.Provider,
		"dsn", db.MetadataStore.DSN,
		"llm_profiles", config.RedactedProfiles(profiles),
	)
	return svc
}

// Initialized reports whether the memory engine is available.
func (a *App) Initialized() bool {
	return a.service != nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Run serves until ctx is cancelled or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting memu-wrapper", "version", version.Version, "commit", version.GitCommit)
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	slog.Info("memu-wrapper is running; press Ctrl+C to stop",
		"addr", a.server.Addr(),
		"memu_initialized", a.Initialized(),
	)

	<-ctx.Done()
	slog.Info("shutting down")
	a.server.Stop()
	return nil
}

// Addr returns the address the HTTP server is bound to.
func (a *App) Addr() string {
	return a.server.Addr()
}

// Stop drains the HTTP server, then releases the engine. The engine is only
// closed once no request can still be using it.
func (a *App) Stop() {
	a.server.Stop()
	a.closeOnce.Do(func() {
		if a.service == nil {
			return
		}
		if err := a.service.Close(); err != nil {
			slog.Warn("memory service close error", "err", err)
		}
	})
}
