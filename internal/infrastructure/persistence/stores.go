// Package persistence selects the relational store configured for the
// process and exposes it through the domain repository interfaces.
package persistence

import (
	"context"
	"fmt"

	"github.com/alem-hub/achievement-engine/config"
	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence/sqlite"
)

// Stores holds one implementation of every repository the engine reads
// and writes.
type Stores struct {
	Catalog     achievement.CatalogRepository
	Grants      achievement.GrantRepository
	Ledger      points.LedgerRepository
	Snapshots   points.SnapshotRepository
	Progress    progress.Reader
	Enrollments progress.EnrollmentReader
	Activity    progress.ActivitySource
	Leaderboard leaderboard.Repository

	// IsTransient reports store errors after which a whole write
	// transaction may be retried.
	IsTransient func(error) bool

	ping  func(context.Context) error
	close func()
}

// Open connects to the configured driver and applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	switch cfg.Driver {
	case "postgres":
		return openPostgres(ctx, cfg)
	case "sqlite":
		return openSQLite(cfg)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	pgCfg := postgres.DefaultConfig(cfg.URL)
	pgCfg.MaxConns = cfg.MaxConns
	pgCfg.MinConns = cfg.MinConns
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.QueryTimeout = cfg.QueryTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	ledger := postgres.NewLedgerRepository(conn)
	prog := postgres.NewProgressRepository(conn)
	return &Stores{
		Catalog:     postgres.NewCatalogRepository(conn),
		Grants:      postgres.NewGrantRepository(conn),
		Ledger:      ledger,
		Snapshots:   ledger,
		Progress:    prog,
		Enrollments: prog,
		Activity:    postgres.NewActivityRepository(conn),
		Leaderboard: postgres.NewLeaderboardRepository(conn),
		IsTransient: postgres.IsTransient,
		ping:        conn.Ping,
		close:       conn.Close,
	}, nil
}

func openSQLite(cfg config.DatabaseConfig) (*Stores, error) {
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Catalog:     store,
		Grants:      store,
		Ledger:      store,
		Snapshots:   store,
		Progress:    store,
		Enrollments: store,
		Activity:    store,
		Leaderboard: store,
		IsTransient: sqlite.IsBusy,
		ping:        store.Ping,
		close:       func() { _ = store.Close() },
	}, nil
}

// Ping checks the underlying database.
func (s *Stores) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the underlying database handle.
func (s *Stores) Close() {
	s.close()
}
