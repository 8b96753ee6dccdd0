// Package database provides pooled PostgreSQL access for event persistence.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection pool settings.
type Config struct {
	ConnString     string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
}

// DefaultConfig returns the pool configuration used by the fence engine.
func DefaultConfig(connString string) *Config {
	return &Config{
		ConnString:     connString,
		MinConns:       1,
		MaxConns:       5,
		AcquireTimeout: 30 * time.Second,
	}
}

// DB wraps a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open creates the connection pool and verifies connectivity.
func Open(ctx context.Context, cfg *Config) (*DB, error) {
	logger := slog.Default().With("component", "database")

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database pool opened", "min_conns", cfg.MinConns, "max_conns", cfg.MaxConns)
	return &DB{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the events table when it does not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			camera_id  TEXT,
			class_name TEXT,
			ts         TIMESTAMPTZ,
			thumbnail  TEXT NULL,
			score      DOUBLE PRECISION NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure events schema: %w", err)
	}
	return nil
}

// Close shuts the pool down.
func (db *DB) Close() {
	db.logger.Info("Closing database pool")
	db.pool.Close()
}

// Health verifies the pool can reach the server.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.pool.Ping(ctx)
}
