package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		sequence BIGSERIAL PRIMARY KEY,
		payment_id TEXT NOT NULL,
		gateway_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		references_payment_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		request JSONB NOT NULL,
		response JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_payment ON audit_log (payment_id);
	CREATE INDEX IF NOT EXISTS idx_audit_recorded ON audit_log (recorded_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_one_dispatch
		ON audit_log (payment_id) WHERE kind = 'dispatch';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_one_confirmation
		ON audit_log (payment_id) WHERE kind = 'confirmation';

	CREATE TABLE IF NOT EXISTS gateways (
		id TEXT PRIMARY KEY,
		descriptor JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := testConnection(connectCtx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("Database connection established")
	return pool, nil
}

func testConnection(ctx context.Context, pool *pgxpool.Pool) error {
	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected result from connection test: %d", result)
	}
	return nil
}

// MigratePostgres creates the audit and gateway tables.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
