// Package main implements queuectl, the operator CLI for the job queue.
//
// It runs maintenance tasks and insight dispatches on demand, enqueues ad hoc
// jobs and prints queue state, bypassing the worker and the Lambda.
//
// Usage:
//
//	go run ./cmd/tools/queuectl reap --task=expire_jobs
//	go run ./cmd/tools/queuectl dispatch evening --at=2026-03-02T17:00:00Z
//	go run ./cmd/tools/queuectl enqueue weekly-checkin --payload='{}'
//	go run ./cmd/tools/queuectl schedules
//	go run ./cmd/tools/queuectl stats
//
// DATABASE_URL is read from the environment or a .env file. Commands that
// only print local information do not connect.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"tasseo/internal/config"
	"tasseo/internal/db"
	"tasseo/internal/queue"
	"tasseo/internal/scheduler"
	"tasseo/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cli{connect: connectFromEnv}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by the subcommands.
type cli struct {
	connect func(ctx context.Context) (*pgxpool.Pool, *config.QueueConfig, error)
	verbose bool
	logger  *slog.Logger
}

func connectFromEnv(ctx context.Context) (*pgxpool.Pool, *config.QueueConfig, error) {
	_ = godotenv.Load()
	var cfg struct {
		Database config.DatabaseConfig
		Queue    config.QueueConfig
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, nil, fmt.Errorf("reading environment: %w", err)
	}
	if !cfg.Database.URL.IsSet() {
		return nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, &cfg.Queue, nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate the tasseo job queue",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		c.reapCmd(),
		c.dispatchCmd(),
		c.enqueueCmd(),
		c.schedulesCmd(),
		c.statsCmd(),
	)
	return root
}

func (c *cli) reapCmd() *cobra.Command {
	var (
		task    string
		refTime string
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Run a maintenance task once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				printTasks(cmd.OutOrStdout())
				return nil
			}
			payload := scheduler.MaintenancePayload{Task: scheduler.TaskType(task)}
			if _, ok := scheduler.Tasks()[payload.Task]; !ok {
				return fmt.Errorf("unknown task %q (see --list)", task)
			}
			if refTime != "" {
				t, err := time.Parse(time.RFC3339, refTime)
				if err != nil {
					return fmt.Errorf("invalid --reference-time: %w", err)
				}
				payload.ReferenceTime = &t
			}

			pool, qcfg, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			runner := &scheduler.MaintenanceRunner{
				Reaper:         scheduler.NewReaper(db.NewJobRepository(pool), db.NewJobLockRepository(pool), c.logger),
				Locks:          db.NewJobLockRepository(pool),
				History:        db.NewJobRunRepository(pool),
				WorkerID:       "queuectl-" + uuid.NewString(),
				StaleAfter:     qcfg.StaleAfter,
				RetainFinished: qcfg.RetainFinished,
				Clock:          types.RealClock{},
				Logger:         c.logger,
			}
			msg, err := runner.Run(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", string(scheduler.TaskReapStaleJobs), "maintenance task to run")
	cmd.Flags().StringVar(&refTime, "reference-time", "", "RFC3339 time to use as now")
	cmd.Flags().BoolVar(&list, "list", false, "list the maintenance tasks and exit")
	return cmd
}

func printTasks(w io.Writer) {
	tasks := scheduler.Tasks()
	names := make([]string, 0, len(tasks))
	for t := range tasks {
		names = append(names, string(t))
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(tw, "%s\t%s\n", n, tasks[scheduler.TaskType(n)])
	}
	_ = tw.Flush()
}

func (c *cli) dispatchCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:       "dispatch <morning|evening>",
		Short:     "Run one insight dispatch sweep",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.InsightMorning), string(types.InsightEvening)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseInsightKind(args[0])
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			pool, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs := queue.NewService(queue.ServiceConfig{Store: db.NewJobRepository(pool), Logger: c.logger})
			d := scheduler.NewDispatcher(db.NewUserRepository(pool), jobs, nil, c.logger)
			res, err := d.Dispatch(cmd.Context(), kind, now.UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s dispatch at %s: candidates=%d dispatched=%d failed=%d\n",
				kind, now.UTC().Format(time.RFC3339), res.Candidates, res.Dispatched, res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time of the simulated tick")
	return cmd
}

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		payload    string
		startAfter time.Duration
		priority   int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Enqueue one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := types.QueueName(args[0])
			if !knownQueue(q) {
				return fmt.Errorf("unknown queue %q", q)
			}
			var body json.RawMessage
			if err := json.Unmarshal([]byte(payload), &body); err != nil {
				return fmt.Errorf("--payload is not valid JSON: %w", err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", q, body)
				return nil
			}

			pool, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs := queue.NewService(queue.ServiceConfig{Store: db.NewJobRepository(pool), Logger: c.logger})
			opts := scheduledOptions(q)
			opts.StartAfter, opts.Priority = startAfter, priority
			id := jobs.Enqueue(cmd.Context(), q, body, opts)
			if id == "" {
				return fmt.Errorf("enqueue to %s failed", q)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload as JSON")
	cmd.Flags().DurationVar(&startAfter, "start-after", 0, "delay before the job becomes claimable")
	cmd.Flags().IntVar(&priority, "priority", 0, "claim priority, higher first")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the job instead of enqueueing it")
	return cmd
}

func knownQueue(q types.QueueName) bool {
	for _, known := range types.AllQueues {
		if q == known {
			return true
		}
	}
	return false
}

func (c *cli) schedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "Print the recurring schedules and their next fire time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printSchedules(cmd.OutOrStdout(), scheduler.DefaultSchedules(), time.Now().UTC())
		},
	}
}

func printSchedules(w io.Writer, schedules []queue.Schedule, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tCRON\tTZ\tNEXT (UTC)")
	for _, s := range schedules {
		sched, err := queue.ParseSchedule(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Queue, s.CronExpression, s.Timezone,
			sched.Next(now).UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts per queue and state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := db.NewJobRepository(pool).Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

var statsColumns = []types.JobState{
	types.JobStateCreated,
	types.JobStateActive,
	types.JobStateCompleted,
	types.JobStateFailed,
	types.JobStateExpired,
}

func printStats(w io.Writer, stats []db.QueueStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "QUEUE\t")
	for _, s := range statsColumns {
		fmt.Fprintf(tw, "%s\t", s)
	}
	fmt.Fprintln(tw)
	for _, qs := range stats {
		fmt.Fprintf(tw, "%s\t", qs.Queue)
		for _, s := range statsColumns {
			fmt.Fprintf(tw, "%d\t", qs.Counts[s])
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}

// scheduledOptions gives a manual run of a scheduled queue the same expiry
// window as its cron-fired jobs.
func scheduledOptions(q types.QueueName) types.JobOptions {
	for _, s := range scheduler.DefaultSchedules() {
		if s.Queue == q {
			return s.Options
		}
	}
	return types.JobOptions{}
}
