package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/arena-sync/internal/config"
)

// Pool settings for the payment audit log.
const (
	ConnectTimeout    = 10 * time.Second
	StatementTimeout  = 15 * time.Second
	MaxConnIdleTime   = 2 * time.Minute
	HealthCheckPeriod = time.Minute
)

// PoolConfig builds the pgxpool configuration for cfg.
func PoolConfig(cfg config.DBConfig, logger *slog.Logger) (*pgxpool.Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnIdleTime = MaxConnIdleTime
	poolCfg.HealthCheckPeriod = HealthCheckPeriod

	poolCfg.ConnConfig.ConnectTimeout = ConnectTimeout
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(StatementTimeout.Milliseconds(), 10)
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		logger.Debug("postgres connection established",
			"host", cfg.Host,
			"database", cfg.Name,
			"pid", conn.PgConn().PID(),
		)
		return nil
	}

	return poolCfg, nil
}

// Connect creates the payment log pool and verifies it.
func Connect(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	return pool, nil
}
