// Package main is the tasseo worker: it consumes every job queue, fires the
// recurring schedules and reaps jobs whose worker died mid-flight.
//
// Several worker processes may run side by side. Claims are row-locked in
// Postgres, schedule ticks are deduplicated through job_locks and, when
// REDIS_ADDR is set, outbound sends share one pacing gap.
//
// Shutdown is triggered by SIGINT or SIGTERM; in-flight jobs finish their
// state update before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tasseo/internal/config"
	"tasseo/internal/db"
	"tasseo/internal/engagement"
	"tasseo/internal/external"
	"tasseo/internal/metrics"
	"tasseo/internal/queue"
	"tasseo/internal/readings"
	"tasseo/internal/scheduler"
	"tasseo/internal/settings"
	"tasseo/internal/types"
)

// paceKey is the Redis key shared by every worker that sends messages.
const paceKey = "tasseo:engagement:send-pace"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	workerID := uuid.New().String()
	logger.Info("tasseo worker starting",
		"environment", cfg.Environment,
		"build", cfg.Build,
		"worker_id", workerID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := external.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	clients, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("creating clients: %w", err)
	}

	clock := types.RealClock{}
	cw := metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)

	svcCfg := queue.ServiceConfig{
		Store:    db.NewJobRepository(pool),
		Metrics:  cw,
		Locker:   db.NewJobLockRepository(pool),
		WorkerID: workerID,
		Clock:    clock,
		Logger:   logger,
	}
	if cfg.AWS.AlertQueueURL != "" {
		svcCfg.Alerts = queue.NewAlertPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.AlertQueueURL, logger)
	}
	svc := queue.NewService(svcCfg)

	pacer, closePacer, err := newPacer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePacer()

	c, err := newComponents(cfg, clients, pool, svc, pacer, cw, clock, logger)
	if err != nil {
		return err
	}

	registerQueues(svc, c, queue.WorkerOptions{
		BatchSize:       cfg.Queue.BatchSize,
		PollingInterval: cfg.Queue.PollInterval,
	})
	if err := svc.Registry().Validate(types.AllQueues); err != nil {
		return err
	}
	for _, s := range scheduler.DefaultSchedules() {
		if err := svc.ScheduleRecurring(s); err != nil {
			return fmt.Errorf("scheduling %s: %w", s.Queue, err)
		}
	}

	reaper := scheduler.NewReaper(db.NewJobRepository(pool), db.NewJobLockRepository(pool), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		return reaper.Loop(gctx, cfg.Queue.ReapInterval, cfg.Queue.StaleAfter, clock)
	})

	err = g.Wait()
	logger.Info("tasseo worker stopped", "error", err)
	return err
}

// components are the job handlers' owners.
type components struct {
	readings   *readings.Service
	dispatcher *scheduler.Dispatcher
	insights   *engagement.InsightSender
	batches    *engagement.BatchSender
}

func newComponents(
	cfg *config.Config,
	clients *external.ClientRegistry,
	conn db.DBTX,
	enq queue.Enqueuer,
	pacer engagement.Pacer,
	cw *metrics.CloudWatch,
	clock types.Clock,
	logger *slog.Logger,
) (*components, error) {
	users := db.NewUserRepository(conn)
	ledger := db.NewEngagementLogRepository(conn)
	flags := settings.New(db.NewAppConfigRepository(conn), cfg.Engagement.SettingsTTL, clock, logger)

	day, err := engagement.NewLedgerDay(cfg.Engagement.LedgerTimezone)
	if err != nil {
		return nil, err
	}
	fallback, err := engagement.LoadFallbackPool()
	if err != nil {
		return nil, fmt.Errorf("loading fallback messages: %w", err)
	}
	composer := engagement.NewComposer(clients.LLM, flags, fallback, clock, logger)

	rcfg := readings.Config{
		LLM:    clients.LLM,
		Files:  clients.Telegram,
		Sender: clients.Sender,
		Clock:  clock,
		Logger: logger,
	}
	// Typed nils would defeat the optional checks.
	if clients.Archive != nil {
		rcfg.Archive = clients.Archive
	}
	if clients.Credits != nil {
		rcfg.Biller = clients.Credits
	}

	return &components{
		readings:   readings.NewService(rcfg),
		dispatcher: scheduler.NewDispatcher(users, enq, cw, logger),
		insights:   engagement.NewInsightSender(composer, clients.Sender, ledger, day, clock, logger),
		batches: engagement.NewBatchSender(engagement.BatchSenderConfig{
			Finder:   engagement.NewFinder(users, ledger, day, clock, logger),
			Composer: composer,
			Sender:   clients.Sender,
			Ledger:   ledger,
			Pacer:    pacer,
			Metrics:  cw,
			Clock:    clock,
			Logger:   logger,
		}),
	}, nil
}

// registerQueues binds a handler to every queue in types.AllQueues.
func registerQueues(svc *queue.Service, c *components, opts queue.WorkerOptions) {
	svc.RegisterWorker(types.QueuePhotoAnalysis, c.readings.PhotoHandler(), opts)
	svc.RegisterWorker(types.QueueChatReply, c.readings.ChatHandler(), opts)

	for _, kind := range []types.InsightKind{types.InsightMorning, types.InsightEvening} {
		svc.RegisterWorker(kind.DispatchQueue(), c.dispatcher.Handler(kind), opts)
		svc.RegisterWorker(kind.SingleQueue(), c.insights.Handler(kind), opts)
	}

	// A batch walks every recipient; one at a time is enough.
	batchOpts := opts
	batchOpts.BatchSize = 1
	batches := map[types.QueueName]types.MessageType{
		types.QueueInactiveReminder: types.MessageInactiveReminder,
		types.QueueWeeklyCheckIn:    types.MessageWeeklyCheckIn,
		types.QueueDailyFortune:     types.MessageDailyFortune,
		types.QueueMorningBatch:     types.MessageMorningInsight,
		types.QueueEveningBatch:     types.MessageEveningInsight,
	}
	for q, mt := range batches {
		svc.RegisterWorker(q, c.batches.Handler(mt), batchOpts)
	}
}

// newPacer returns a Redis-backed pacer when REDIS_ADDR is set, otherwise an
// in-process one. The returned func releases the Redis client.
func newPacer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engagement.Pacer, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("REDIS_ADDR not set, pacing sends per process")
		return engagement.NewSleepPacer(cfg.Engagement.SendInterval), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return engagement.NewRedisPacer(client, paceKey, cfg.Engagement.SendInterval), func() { _ = client.Close() }, nil
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
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
