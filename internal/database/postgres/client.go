// Package postgres keeps the submission history and periodic pool
// counters of the miner in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	// URL is a postgres:// URL or a key=value DSN
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient opens the pool and pings the server
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB
func (c *Client) DB() *sql.DB {
	return c.db
}

// Migrate creates the tables when missing
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shares (
		id           BIGSERIAL PRIMARY KEY,
		service      TEXT NOT NULL,
		pool         INTEGER NOT NULL,
		pool_url     TEXT NOT NULL,
		job_id       TEXT NOT NULL,
		block_height BIGINT NOT NULL,
		nonce        BIGINT NOT NULL,
		outcome      TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		share_diff   DOUBLE PRECISION NOT NULL,
		network_diff DOUBLE PRECISION NOT NULL,
		is_block     BOOLEAN NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shares_submitted_at ON shares (submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS pool_stats (
		id          BIGSERIAL PRIMARY KEY,
		service     TEXT NOT NULL,
		pool        INTEGER NOT NULL,
		name        TEXT NOT NULL,
		is_current  BOOLEAN NOT NULL,
		accepted    BIGINT NOT NULL,
		rejected    BIGINT NOT NULL,
		solved      BIGINT NOT NULL,
		best_share  DOUBLE PRECISION NOT NULL,
		wait_secs   DOUBLE PRECISION NOT NULL,
		hashrate    DOUBLE PRECISION NOT NULL,
		network_diff DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
}
