// Package main is the background worker of the achievement engine.
//
// The worker runs two periodic jobs:
//   - rebuild_leaderboard materializes every period's current board and
//     warms the Redis cache
//   - repair_snapshots reconciles user point snapshots with the ledger
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/alem-hub/achievement-engine/config"
	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/achievement-engine/pkg/logger"
	"github.com/alem-hub/achievement-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Setup(cfg.App.Name+"-worker", cfg.Observability.Level, cfg.Observability.Format)
	calendar, err := cfg.Calendar()
	if err != nil {
		return err
	}
	log.Info("starting achievement engine worker",
		"env", cfg.App.Environment,
		"driver", cfg.Database.Driver,
		"leaderboard_interval", cfg.Scheduler.LeaderboardInterval.String(),
		"repair_interval", cfg.Scheduler.RepairInterval.String(),
	)
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORES
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer stores.Close()

	cache, closeCache := openCache(cfg.Redis, log)
	defer closeCache()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. JOBS
	// ─────────────────────────────────────────────────────────────────────────
	handlerOpts := []command.HandlerOption{
		command.WithRetrier(retry.New(
			retry.WithMaxAttempts(cfg.Engine.SnapshotRetryAttempts),
			retry.WithRetryIf(stores.IsTransient),
		)),
		command.WithLogger(log),
	}
	rebuilder := command.NewRebuildLeaderboardHandler(stores.Leaderboard, cache, calendar, handlerOpts...)
	repairer := command.NewRepairSnapshotsHandler(stores.Ledger, stores.Snapshots, handlerOpts...)

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})
	registrations := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{
			job:      jobs.NewRebuildLeaderboardJob(rebuilder, log),
			schedule: &scheduler.IntervalSchedule{Interval: cfg.Scheduler.LeaderboardInterval, Immediate: true},
		},
		{
			job:      jobs.NewRepairSnapshotsJob(repairer, log),
			schedule: &scheduler.IntervalSchedule{Interval: cfg.Scheduler.RepairInterval, Immediate: true},
		},
	}
	for _, r := range registrations {
		if err := sched.Register(r.job, r.schedule); err != nil {
			return fmt.Errorf("failed to register %s: %w", r.job.Name(), err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()
	log.Info("received shutdown signal, waiting for running jobs")

	if err := sched.Stop(); err != nil {
		return err
	}
	m := sched.GetMetrics().Snapshot()
	log.Info("shutdown completed",
		"executions", m.TotalExecutions,
		"failures", m.TotalFailures,
	)
	return nil
}

// openCache returns nil when Redis is disabled or unreachable; boards are
// then only written to the store.
func openCache(cfg config.RedisConfig, log *slog.Logger) (leaderboard.Cache, func()) {
	if cfg.Disabled {
		return nil, func() {}
	}
	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = cfg.Addr
	redisCfg.Password = cfg.Password
	redisCfg.DB = cfg.DB

	conn, err := redis.NewCache(redisCfg)
	if err != nil {
		log.Warn("failed to connect to Redis, cache warming off", "error", err)
		return nil, func() {}
	}
	return redis.NewLeaderboardCache(conn, cfg.LeaderboardTTL), func() { _ = conn.Close() }
}
