package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/options-ledger/internal/config"
	"github.com/atmx/options-ledger/internal/store"
)

// openStore builds the configured store, runs its schema init and wraps it
// with the Redis cache when REDIS_URL is set. The returned cleanups run in
// reverse order on shutdown.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)
	fail := func(err error) (store.Store, []func(), error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		return nil, nil, err
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("database connection failed: %w", err))
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, cfg.Store.LockTimeout)
		if err := pg.Init(ctx); err != nil {
			return fail(fmt.Errorf("schema init failed: %w", err))
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.Store.SQLitePath, cfg.Store.LockTimeout)
		if err != nil {
			return fail(fmt.Errorf("sqlite open %s: %w", cfg.Store.SQLitePath, err))
		}
		cleanup = append(cleanup, func() { lite.Close() })
		if err := lite.Init(ctx); err != nil {
			return fail(fmt.Errorf("schema init failed: %w", err))
		}
		st = lite
		slog.Info("opened SQLite ledger", "path", cfg.Store.SQLitePath)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore().WithLockTimeout(cfg.Store.LockTimeout)
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Store.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Store.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Store.CacheTTL)
	}
	return st, cleanup, nil
}
