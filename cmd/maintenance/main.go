// Package main is the maintenance Lambda. EventBridge rules invoke it with a
// scheduler.MaintenancePayload naming one task:
//
//	reap_stale_jobs  every minute
//	expire_jobs      every 5 minutes
//	purge_jobs       daily at 03:00 UTC
//
// Each task runs under an hourly job lock and is recorded in job_runs.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"tasseo/internal/config"
	"tasseo/internal/db"
	"tasseo/internal/scheduler"
	"tasseo/internal/types"
)

// maintenanceConfig is the slice of config.Config this Lambda reads. It does
// not go through config.LoadConfig, which requires bot credentials the
// maintenance tasks never use.
type maintenanceConfig struct {
	Database config.DatabaseConfig
	Queue    config.QueueConfig
}

func loadMaintenanceConfig() (*maintenanceConfig, error) {
	var cfg maintenanceConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newRunner wires the runner onto a database connection.
func newRunner(conn db.DBTX, cfg *maintenanceConfig, workerID string, logger *slog.Logger) *scheduler.MaintenanceRunner {
	return &scheduler.MaintenanceRunner{
		Reaper:         scheduler.NewReaper(db.NewJobRepository(conn), db.NewJobLockRepository(conn), logger),
		Locks:          db.NewJobLockRepository(conn),
		History:        db.NewJobRunRepository(conn),
		WorkerID:       workerID,
		StaleAfter:     cfg.Queue.StaleAfter,
		RetainFinished: cfg.Queue.RetainFinished,
		Clock:          types.RealClock{},
		Logger:         logger,
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("maintenance lambda initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	cfg, err := loadMaintenanceConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// The pool lives for the container; Lambda freezes it between invocations.
	pool, err := db.NewPool(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	workerID := uuid.New().String()
	runner := newRunner(pool, cfg, workerID, logger)

	logger.Info("maintenance lambda initialized", "worker_id", workerID)
	lambda.Start(runner.Run)
}
