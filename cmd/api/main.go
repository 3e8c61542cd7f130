// Package main is the entry point for the tasseo intake API.
//
// It accepts Telegram webhook updates and WebApp/web reading requests,
// checks credits and enqueues photo-analysis and chat-reply jobs for the
// worker. The handlers never wait for a reading to finish.
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

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"tasseo/internal/api/handlers"
	"tasseo/internal/auth"
	"tasseo/internal/config"
	"tasseo/internal/core"
	"tasseo/internal/db"
	"tasseo/internal/external"
	"tasseo/internal/metrics"
	"tasseo/internal/queue"
	"tasseo/internal/settings"
	"tasseo/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tasseo API starting",
		"environment", cfg.Environment,
		"build", cfg.Build,
		"port", cfg.API.Port,
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := external.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return err
	}
	clients, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating clients: %w", err)
	}
	cw := metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)

	srv, err := buildServer(cfg, pool, clients, cw, logger)
	if err != nil {
		pool.Close()
		return err
	}
	srv.OnShutdown(func() error {
		cw.Wait()
		return nil
	})

	return runHTTPServer(srv, cfg, logger)
}

// apiDB is what the API needs from *pgxpool.Pool.
type apiDB interface {
	db.DBTX
	core.Pinger
	Close()
}

// buildServer wires the handlers onto a core.Server and mounts the routes.
func buildServer(cfg *config.Config, pool apiDB, clients *external.ClientRegistry, m core.MetricsCollector, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = m
	srv.HealthProbes = append(srv.HealthProbes, &core.DatabaseProbe{DB: pool})
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})

	if cfg.API.JWTSecret.IsSet() {
		tokens, err := auth.NewTokenService(cfg.API.JWTSecret, auth.DefaultTokenTTL, types.RealClock{})
		if err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		srv.Authenticator = tokens
	} else {
		logger.Warn("JWT_SECRET not set, /v1/readings rejects every request")
	}
	if !cfg.Telegram.WebhookSecret.IsSet() && cfg.Environment != "local" {
		return nil, errors.New("TELEGRAM_WEBHOOK_SECRET is required outside local")
	}

	// The API only enqueues; jobs are claimed by cmd/worker.
	jobs := queue.NewService(queue.ServiceConfig{
		Store:    db.NewJobRepository(pool),
		WorkerID: "api-" + uuid.NewString(),
		Logger:   logger,
	})
	flags := settings.New(db.NewAppConfigRepository(pool), cfg.Engagement.SettingsTTL, types.RealClock{}, logger)

	var credits handlers.CreditChecker
	if clients.Credits != nil {
		credits = clients.Credits
	}
	intake := handlers.NewIntake(jobs, credits, flags, logger)

	webhook := handlers.NewTelegramWebhookHandler(intake, db.NewUserRepository(pool), clients.Sender, cfg.Telegram.WebhookSecret, logger)
	readingsHandler := handlers.NewReadingsHandler(intake, srv.Validator, logger)

	srv.PublicPaths["/v1"+handlers.WebhookPath] = true
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhook.RegisterRoutes,
		readingsHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.API.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
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

// newLogger creates a structured slog.Logger configured for the given log level.
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
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
