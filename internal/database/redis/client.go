// Package redis publishes the live miner state to Redis: a summary hash,
// one hash per pool and a capped list of recent shares.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
)

// RecentShares is the length of the recent share list
const RecentShares = 100

// Client wraps Redis operations for the miner
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	URL    string
	Prefix string
	// TTL expires the published keys when the miner stops publishing
	TTL          time.Duration
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient parses cfg.URL, connects and pings the server
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gominer"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Name implements stats.Sink
func (c *Client) Name() string { return "redis" }

// Publish writes the summary and pool hashes in one pipeline
func (c *Client) Publish(ctx context.Context, snap *stats.Snapshot) error {
	pipe := c.rdb.Pipeline()

	summary := SummaryKey(c.prefix)
	pipe.HSet(ctx, summary, SummaryFields(snap))
	pipe.Expire(ctx, summary, c.ttl)

	for _, p := range snap.Pools {
		key := PoolKey(c.prefix, p.Index)
		pipe.HSet(ctx, key, PoolFields(snap, p.Index))
		pipe.Expire(ctx, key, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// RecordShare pushes rep onto the capped recent share list
func (c *Client) RecordShare(ctx context.Context, rep submit.Report) error {
	entry, err := jsonx.Marshal(NewShareEntry(rep))
	if err != nil {
		return fmt.Errorf("failed to marshal share: %w", err)
	}

	key := SharesKey(c.prefix)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, RecentShares-1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record share: %w", err)
	}
	return nil
}

// RecentShareEntries returns the newest n shares, newest first
func (c *Client) RecentShareEntries(ctx context.Context, n int64) ([]ShareEntry, error) {
	raw, err := c.rdb.LRange(ctx, SharesKey(c.prefix), 0, n-1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read shares: %w", err)
	}
	out := make([]ShareEntry, 0, len(raw))
	for _, r := range raw {
		var e ShareEntry
		if err := jsonx.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal share: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Key layout

func SummaryKey(prefix string) string { return prefix + ":summary" }

func PoolKey(prefix string, index int) string { return fmt.Sprintf("%s:pool:%d", prefix, index) }

func SharesKey(prefix string) string { return prefix + ":shares" }

// SummaryFields flattens the miner-wide part of a snapshot
func SummaryFields(snap *stats.Snapshot) map[string]any {
	var accepted, rejected, solved uint64
	for _, p := range snap.Pools {
		accepted += p.Accepted
		rejected += p.Rejected
		solved += p.Solved
	}
	return map[string]any{
		"service":      snap.Service,
		"algo":         snap.Algorithm,
		"hashrate":     formatFloat(snap.Hashrate),
		"threads":      len(snap.Workers),
		"pool":         snap.Current,
		"generation":   snap.Generation,
		"accepted":     accepted,
		"rejected":     rejected,
		"solved":       solved,
		"net_diff":     formatFloat(snap.Network.Difficulty),
		"net_hashrate": formatFloat(snap.Network.Hashrate),
		"height":       snap.Network.Height,
		"updated":      snap.At.Unix(),
	}
}

// PoolFields flattens the counters of pool index
func PoolFields(snap *stats.Snapshot, index int) map[string]any {
	for _, p := range snap.Pools {
		if p.Index != index {
			continue
		}
		last := int64(0)
		if !p.LastShare.IsZero() {
			last = p.LastShare.Unix()
		}
		return map[string]any{
			"name":       p.Config.Name,
			"url":        p.Config.URL,
			"current":    strconv.FormatBool(p.Index == snap.Current),
			"stratum":    strconv.FormatBool(p.Stratum),
			"accepted":   p.Accepted,
			"rejected":   p.Rejected,
			"solved":     p.Solved,
			"best_share": formatFloat(p.BestShare),
			"last_share": last,
			"wait_secs":  int64(p.WaitTime.Seconds()),
			"on_hold":    strconv.FormatBool(p.OnHold),
		}
	}
	return nil
}

// ShareEntry is one element of the recent share list
type ShareEntry struct {
	Pool      int     `json:"pool"`
	JobID     string  `json:"job_id"`
	Nonce     uint32  `json:"nonce"`
	Outcome   string  `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	ShareDiff float64 `json:"share_diff"`
	Block     bool    `json:"block,omitempty"`
	Time      int64   `json:"time"`
}

func NewShareEntry(rep submit.Report) ShareEntry {
	return ShareEntry{
		Pool:      rep.Pool,
		JobID:     rep.JobID,
		Nonce:     rep.Nonce,
		Outcome:   rep.Outcome.String(),
		Reason:    rep.Reason,
		ShareDiff: rep.ShareDiff,
		Block:     rep.Block,
		Time:      rep.At.Unix(),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
