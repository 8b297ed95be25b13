package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
)

// ShareRepository handles share rows
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare inserts share and sets its ID
func (r *ShareRepository) CreateShare(ctx context.Context, share *Share) error {
	query := `
		INSERT INTO shares (service, pool, pool_url, job_id, block_height, nonce, outcome,
		                    reason, share_diff, network_diff, is_block, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.Service, share.Pool, share.PoolURL, share.JobID, share.BlockHeight, share.Nonce,
		share.Outcome, share.Reason, share.ShareDiff, share.NetworkDiff, share.IsBlock, share.SubmittedAt,
	).Scan(&share.ID)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// RecentShares returns the newest shares of service
func (r *ShareRepository) RecentShares(ctx context.Context, service string, limit int) ([]*Share, error) {
	query := `
		SELECT id, service, pool, pool_url, job_id, block_height, nonce, outcome,
		       reason, share_diff, network_diff, is_block, submitted_at
		FROM shares
		WHERE service = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shares []*Share
	for rows.Next() {
		s := &Share{}
		if err := rows.Scan(&s.ID, &s.Service, &s.Pool, &s.PoolURL, &s.JobID, &s.BlockHeight,
			&s.Nonce, &s.Outcome, &s.Reason, &s.ShareDiff, &s.NetworkDiff, &s.IsBlock, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}
	return shares, nil
}

// PoolStatsRepository handles pool_stats rows
type PoolStatsRepository struct {
	db *sql.DB
}

// NewPoolStatsRepository creates a new pool stats repository
func NewPoolStatsRepository(db *sql.DB) *PoolStatsRepository {
	return &PoolStatsRepository{db: db}
}

// InsertBatch writes rows in one transaction
func (r *PoolStatsRepository) InsertBatch(ctx context.Context, rows []*PoolStat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_stats (service, pool, name, is_current, accepted, rejected, solved,
		                        best_share, wait_secs, hashrate, network_diff, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Service, row.Pool, row.Name, row.IsCurrent,
			row.Accepted, row.Rejected, row.Solved, row.BestShare, row.WaitSecs,
			row.Hashrate, row.NetworkDiff, row.RecordedAt); err != nil {
			return fmt.Errorf("failed to insert pool stats: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool stats: %w", err)
	}
	return nil
}

// Sink stores every snapshot as pool_stats rows and every submission as
// a shares row
type Sink struct {
	service string
	stats   *PoolStatsRepository
	shares  *ShareRepository
}

// NewSink creates a sink over c
func NewSink(c *Client, service string) *Sink {
	return &Sink{
		service: service,
		stats:   NewPoolStatsRepository(c.DB()),
		shares:  NewShareRepository(c.DB()),
	}
}

// RecordShare inserts one submission outcome
func (s *Sink) RecordShare(ctx context.Context, rep submit.Report) error {
	return s.shares.CreateShare(ctx, ShareFromReport(s.service, rep))
}

// Name implements stats.Sink
func (s *Sink) Name() string { return "postgres" }

// Publish implements stats.Sink
func (s *Sink) Publish(ctx context.Context, snap *stats.Snapshot) error {
	rows := PoolStatsFromSnapshot(snap)
	if len(rows) == 0 {
		return nil
	}
	return s.stats.InsertBatch(ctx, rows)
}
