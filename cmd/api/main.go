// Package main is the HTTP entry point of the achievement engine.
//
// The API process evaluates and grants achievements, appends manual point
// transactions and serves achievement lists, course progress and
// leaderboards. Periodic repair and leaderboard materialization run in
// cmd/worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alem-hub/achievement-engine/config"
	"github.com/alem-hub/achievement-engine/internal/application/catalog"
	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/application/eventhandler"
	"github.com/alem-hub/achievement-engine/internal/application/query"
	"github.com/alem-hub/achievement-engine/internal/application/stats"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/external/activity"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence/redis"
	apihttp "github.com/alem-hub/achievement-engine/internal/interface/http"
	"github.com/alem-hub/achievement-engine/pkg/circuitbreaker"
	"github.com/alem-hub/achievement-engine/pkg/logger"
	"github.com/alem-hub/achievement-engine/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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
	log := logger.Setup(cfg.App.Name+"-api", cfg.Observability.Level, cfg.Observability.Format)
	calendar, err := cfg.Calendar()
	if err != nil {
		return err
	}
	log.Info("starting achievement engine API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"driver", cfg.Database.Driver,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORES
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer stores.Close()

	health := apihttp.NewHealthChecker(cfg.App.Version)
	health.AddCheck("database", apihttp.PingCheck(stores))

	boards, closeCache := openLeaderboardCache(cfg.Redis, log)
	defer closeCache()
	if boards != nil {
		health.AddCheck("redis", apihttp.PingCheck(boards.pinger))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = true
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("event bus close failed", "error", err)
		}
	}()

	var cache leaderboard.Cache
	if boards != nil {
		cache = boards.cache
		invalidator := eventhandler.NewOnPointsAwardedHandler(cache, 0, log)
		if err := bus.Subscribe(shared.EventPointsAwarded, invalidator.Handle); err != nil {
			return fmt.Errorf("failed to subscribe cache invalidation: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	retrier := retry.New(
		retry.WithMaxAttempts(cfg.Engine.SnapshotRetryAttempts),
		retry.WithRetryIf(stores.IsTransient),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store write", "attempt", attempt, "delay", delay, "error", err)
		}),
	)

	catalogSvc := catalog.NewService(stores.Catalog, cfg.Engine.CatalogCacheTTL,
		catalog.WithLoadTimeout(cfg.Database.QueryTimeout),
		catalog.WithLogger(log))
	activityBreaker := circuitbreaker.New("activity",
		circuitbreaker.WithFailureThreshold(cfg.Engine.ActivityBreakerThreshold),
		circuitbreaker.WithCooldown(cfg.Engine.ActivityBreakerCooldown),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
	aggregator := stats.NewAggregator(stores.Progress, calendar,
		stats.WithActivity(activitySource(ctx, cfg.Activity, stores, log), activityBreaker),
		stats.WithLogger(log),
	)

	handlerOpts := []command.HandlerOption{
		command.WithPublisher(bus),
		command.WithRetrier(retrier),
		command.WithLogger(log),
	}

	server := apihttp.NewServer(apihttp.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		RequestTimeout: cfg.Database.QueryTimeout * 2,
	}, apihttp.Dependencies{
		Evaluate: command.NewEvaluateAndGrantHandler(aggregator, catalogSvc, stores.Grants, handlerOpts...),
		Achievements: query.NewGetUserAchievementsHandler(
			stores.Grants, stores.Ledger, stores.Snapshots, log),
		CourseProgress: query.NewGetCourseProgressHandler(stores.Enrollments, catalogSvc, stores.Grants,
			query.WithNextAchievementProgress(aggregator),
			query.WithCourseProgressLogger(log)),
		Leaderboard: query.NewGetLeaderboardHandler(stores.Leaderboard, cache, calendar,
			query.WithLimits(cfg.Engine.LeaderboardDefaultLimit, cfg.Engine.LeaderboardMaxLimit),
			query.WithLeaderboardLogger(log),
		),
		Health: health,
		Logger: log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SERVE & GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}

// leaderboardCache pairs the cache with the client it pings.
type leaderboardCache struct {
	cache  *redis.LeaderboardCache
	pinger *redis.Cache
}

// openLeaderboardCache connects to Redis unless disabled. A connection
// failure is not fatal: boards are then aggregated on every read.
func openLeaderboardCache(cfg config.RedisConfig, log *slog.Logger) (*leaderboardCache, func()) {
	if cfg.Disabled {
		log.Info("redis disabled, leaderboard cache off")
		return nil, func() {}
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = cfg.Addr
	redisCfg.Password = cfg.Password
	redisCfg.DB = cfg.DB

	conn, err := redis.NewCache(redisCfg)
	if err != nil {
		log.Warn("failed to connect to Redis, leaderboard cache off", "error", err)
		return nil, func() {}
	}
	lc := &leaderboardCache{
		cache:  redis.NewLeaderboardCache(conn, cfg.LeaderboardTTL),
		pinger: conn,
	}
	return lc, func() { _ = conn.Close() }
}

// activitySource returns the external activity service client when
// configured, otherwise the store's activity_log reader.
func activitySource(ctx context.Context, cfg config.ActivityConfig, stores *persistence.Stores, log *slog.Logger) progress.ActivitySource {
	if cfg.Source != "http" {
		return stores.Activity
	}

	clientCfg := activity.DefaultClientConfig(cfg.BaseURL)
	clientCfg.APIKey = cfg.APIKey
	clientCfg.Timeout = cfg.Timeout
	clientCfg.RateLimiter.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.RateLimiter.BurstSize = cfg.BurstSize
	clientCfg.Logger = log
	client := activity.NewClient(clientCfg)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		log.Warn("activity service unreachable, study hours and streaks read as zero until it recovers", "error", err)
	}
	return client
}
