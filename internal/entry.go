// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/carta/internal/api"
	"github.com/starford/carta/internal/audit"
	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/index"
	"github.com/starford/carta/internal/mcpserver"
	"github.com/starford/carta/internal/patch"
	"github.com/starford/carta/internal/sse"
	"github.com/starford/carta/internal/storage"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{
		version: "dev",
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize structured JSON logger. Stdout belongs to the stdio transport.
	logger := slog.New(slog.NewJSONHandler(app.stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.App.Transport),
		slog.String("workspace_root", cfg.Workspace.Root),
		slog.Bool("read_only", cfg.Workspace.ReadOnly),
		slog.String("audit_mode", cfg.Audit.Mode),
		slog.Bool("index_enabled", cfg.Index.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize storage.
	store, err := storage.NewFS(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Audit sink lives for the whole run.
	sink, err := audit.Open(cfg.Audit.AuditMode(), store.Root(), cfg.Audit.Dir)
	if err != nil {
		return fmt.Errorf("init audit sink: %w", err)
	}
	if j, ok := sink.(*audit.JSONL); ok {
		logger.Info("Audit log", slog.String("path", j.Path()))
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("audit sink close failed", slog.String("error", err.Error()))
		}
	}()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svcOpts := []cardservice.Option{
		cardservice.WithLogger(logger),
		cardservice.WithPublisher(broker),
	}

	// Optional SQLite card index.
	var db *index.DB
	if cfg.Index.Enabled {
		dbPath := resolvePath(store.Root(), cfg.Index.Path)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("init index dir: %w", err)
		}
		db, err = index.Open(dbPath)
		if err != nil {
			return fmt.Errorf("init index: %w", err)
		}
		defer db.Close()

		if err := index.Sync(db, store, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
		svcOpts = append(svcOpts, cardservice.WithIndex(db))
	}

	engine := patch.New(store, cfg.Workspace.ReadOnly, logger)
	svc := cardservice.New(store, engine, sink, svcOpts...)
	mcpSrv := mcpserver.New(svc, app.version, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if db != nil && cfg.Index.Watch {
		matcher, err := storage.NewMatcher(nil, nil)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := index.Watch(gCtx, db, store, matcher, logger, broker.PublishFileEvent); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	var httpServer *http.Server
	switch cfg.App.Transport {
	case TransportHTTP:
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newHTTPHandler(cfg, svc, mcpSrv, broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	default:
		g.Go(func() error {
			// Closing stdin ends the session and the process.
			defer cancel()
			logger.Info("Serving MCP on stdio")
			if err := mcpSrv.ServeStdio(gCtx, app.stdin, app.stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer != nil {
			logger.Info("Shutting down server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func newHTTPHandler(cfg *Config, svc *cardservice.Service, mcpSrv *mcpserver.Server, broker *sse.Broker) http.Handler {
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// MCP over streamable HTTP, behind the same auth as the API.
	r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcpSrv.HTTPHandler())

	return r
}

// Scan runs a single scan against the configured workspace and writes the
// result as indented JSON to out.
func Scan(ctx context.Context, cfg *Config, req cardservice.ScanRequest, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	store, err := storage.NewFS(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	svc := cardservice.New(store, patch.New(store, true, logger), audit.Discard{}, cardservice.WithLogger(logger))

	res, err := svc.Scan(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
