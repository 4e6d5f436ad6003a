// Package main is the entry point for the Hub notification API server.
//
// It loads the configuration, connects to the Hub and (when configured) the
// database, builds the HTTP server on the core chassis and serves the /v1
// routes.
//
// In local mode the server listens on the configured port. Inside Lambda it
// is served behind a function URL through lambdaurl.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambdaurl"

	"hubclient/internal/api/handlers"
	"hubclient/internal/config"
	"hubclient/internal/core"
	"hubclient/internal/db"
	"hubclient/internal/hub"
	"hubclient/internal/notification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// apiDeps are the collaborators behind the /v1 routes. Items and
// the database probe are nil when no database is configured.
type apiDeps struct {
	Transformer  handlers.Transformer
	PolicyStatus handlers.PolicyStatusReader
	Components   handlers.ComponentLookup
	Items        handlers.ContentItemLister
	Probes       []core.HealthProbe
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("hub notification API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	client, err := hub.NewClientFromConfig(cfg.Hub, cfg.Proxy, hub.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}

	deps := apiDeps{
		Transformer: notification.NewDispatcher(
			notification.NewHubResolver(client),
			notification.WithConcurrency(cfg.Poller.Concurrency),
		),
		PolicyStatus: hub.NewPolicyStatusService(client, hub.NewProjectService(client)),
		Components:   hub.NewComponentService(client),
		Probes: []core.HealthProbe{
			core.ProbeFunc{ProbeName: "hub", Fn: client.Authenticate},
		},
	}

	var closers []func()
	if !cfg.Database.URL.IsZero() {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		closers = append(closers, pool.Close)
		if cfg.Environment == "local" {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return err
			}
		}
		deps.Items = db.NewContentItemRepository(pool)
		deps.Probes = append(deps.Probes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})
	} else {
		logger.Warn("DATABASE_URL not set; content item routes are disabled")
	}

	srv, err := newServer(cfg, logger, deps)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return fmt.Errorf("creating server: %w", err)
	}
	for _, c := range closers {
		srv.OnShutdown(c)
	}

	if isLambdaEnvironment() {
		logger.Info("serving through lambda function URL")
		lambdaurl.Start(srv.Handler())
		return nil
	}

	return runHTTPServer(srv, cfg, logger)
}

// newServer builds the server and mounts the /v1 routes backed by deps.
func newServer(cfg *config.Config, logger *slog.Logger, deps apiDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.HealthProbes = deps.Probes

	transformHandler := handlers.NewTransformHandler(deps.Transformer, cfg.Policy.RuleIDs, srv.Validator, logger)
	policyHandler := handlers.NewPolicyStatusHandler(deps.PolicyStatus, srv.Validator)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		transformHandler.RegisterRoutes,
		policyHandler.RegisterRoutes,
	)
	if deps.Components != nil {
		componentsHandler := handlers.NewComponentsHandler(deps.Components, srv.Validator)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, componentsHandler.RegisterRoutes)
	}
	if deps.Items != nil {
		itemsHandler := handlers.NewContentItemsHandler(deps.Items, srv.Validator)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, itemsHandler.RegisterRoutes)
	}

	srv.MountRoutes()
	return srv, nil
}

func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// The write timeout must outlast the per-request Hub timeout.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2*cfg.Hub.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
