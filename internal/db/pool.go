package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store archives scans and daily token usage in PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open creates the connection pool and verifies it with a ping
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection pool initialized",
		zap.Int32("max_conns", config.MaxConns))
	return &Store{pool: pool, logger: logger}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id                UUID PRIMARY KEY,
	filename          TEXT NOT NULL DEFAULT '',
	image_path        TEXT NOT NULL DEFAULT '',
	supplier_category TEXT NOT NULL DEFAULT '',
	supplier_name     TEXT NOT NULL DEFAULT '',
	document_number   TEXT NOT NULL DEFAULT '',
	document_date     TEXT NOT NULL DEFAULT '',
	total_amount      NUMERIC(14, 2),
	invoice           JSONB NOT NULL,
	submitted_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token_usage (
	day      DATE PRIMARY KEY,
	tokens   BIGINT NOT NULL DEFAULT 0,
	requests BIGINT NOT NULL DEFAULT 0
);
`

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("Database connection pool closed")
}
