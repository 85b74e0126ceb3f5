package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lyzr/mutwizard/common/config"
	"github.com/lyzr/mutwizard/common/logger"
)

// DB is the connection pool behind the run report store
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New connects the pool and pings it once
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("report store connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", poolConfig.MaxConns,
		"statement_timeout", cfg.Database.StatementTimeout)

	return &DB{Pool: pool, log: log}, nil
}

// newPoolConfig maps the database section onto pgx pool settings. Sessions
// carry the service name so report queries can be told apart in
// pg_stat_activity.
func newPoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	if cfg.Database.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout
	}
	params := poolConfig.ConnConfig.RuntimeParams
	params["application_name"] = "mutwizard-" + cfg.Service.Name
	if cfg.Database.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.Database.StatementTimeout.Milliseconds(), 10)
	}
	return poolConfig, nil
}

// Close closes the pool
func (db *DB) Close() {
	db.log.Info("closing report store pool")
	db.Pool.Close()
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
