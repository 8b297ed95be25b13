package messaging

import (
	"strconv"
	"time"

	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
)

// ShareEvent is published for every submission outcome
type ShareEvent struct {
	Service     string    `json:"service"`
	Pool        int       `json:"pool"`
	PoolURL     string    `json:"pool_url"`
	JobID       string    `json:"job_id"`
	Nonce       uint32    `json:"nonce"`
	Status      string    `json:"status"` // "accepted", "rejected", "duplicate", "stale"
	Reason      string    `json:"reason,omitempty"`
	ShareDiff   float64   `json:"share_diff"`
	NetworkDiff float64   `json:"network_diff"`
	BlockHeight uint32    `json:"block_height"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// BlockEvent is published when an accepted share solved a block
type BlockEvent struct {
	Service     string    `json:"service"`
	Pool        int       `json:"pool"`
	JobID       string    `json:"job_id"`
	BlockHeight uint32    `json:"block_height"`
	ShareDiff   float64   `json:"share_diff"`
	NetworkDiff float64   `json:"network_diff"`
	FoundAt     time.Time `json:"found_at"`
}

// PoolSwitchEvent is published after every pool switch
type PoolSwitchEvent struct {
	Service    string    `json:"service"`
	From       int       `json:"from"`
	To         int       `json:"to"`
	ToName     string    `json:"to_name"`
	ToURL      string    `json:"to_url"`
	Generation uint64    `json:"generation"`
	SwitchedAt time.Time `json:"switched_at"`
}

// StatsEvent is a compact snapshot
type StatsEvent struct {
	Service     string    `json:"service"`
	Algorithm   string    `json:"algorithm"`
	Hashrate    float64   `json:"hashrate"`
	Threads     int       `json:"threads"`
	Pool        int       `json:"pool"`
	Accepted    uint64    `json:"accepted"`
	Rejected    uint64    `json:"rejected"`
	Solved      uint64    `json:"solved"`
	NetworkDiff float64   `json:"network_diff"`
	BlockHeight uint32    `json:"block_height"`
	At          time.Time `json:"at"`
}

// NewShareEvent maps a submission report
func NewShareEvent(service string, rep submit.Report) ShareEvent {
	return ShareEvent{
		Service:     service,
		Pool:        rep.Pool,
		PoolURL:     rep.URL,
		JobID:       rep.JobID,
		Nonce:       rep.Nonce,
		Status:      rep.Outcome.String(),
		Reason:      rep.Reason,
		ShareDiff:   rep.ShareDiff,
		NetworkDiff: rep.NetDiff,
		BlockHeight: rep.Height,
		SubmittedAt: rep.At,
	}
}

// NewBlockEvent returns the block event of rep, or false when rep did
// not solve an accepted block
func NewBlockEvent(service string, rep submit.Report) (BlockEvent, bool) {
	if !rep.Block || rep.Outcome != submit.Accepted {
		return BlockEvent{}, false
	}
	return BlockEvent{
		Service:     service,
		Pool:        rep.Pool,
		JobID:       rep.JobID,
		BlockHeight: rep.Height,
		ShareDiff:   rep.ShareDiff,
		NetworkDiff: rep.NetDiff,
		FoundAt:     rep.At,
	}, true
}

// NewPoolSwitchEvent describes a switch to target
func NewPoolSwitchEvent(service string, from int, target pool.Info, gen uint64, at time.Time) PoolSwitchEvent {
	return PoolSwitchEvent{
		Service:    service,
		From:       from,
		To:         target.Index,
		ToName:     target.Config.Name,
		ToURL:      target.Config.URL,
		Generation: gen,
		SwitchedAt: at,
	}
}

// NewStatsEvent summarises snap
func NewStatsEvent(snap *stats.Snapshot) StatsEvent {
	ev := StatsEvent{
		Service:     snap.Service,
		Algorithm:   snap.Algorithm,
		Hashrate:    snap.Hashrate,
		Threads:     len(snap.Workers),
		Pool:        snap.Current,
		NetworkDiff: snap.Network.Difficulty,
		BlockHeight: snap.Network.Height,
		At:          snap.At,
	}
	for _, p := range snap.Pools {
		ev.Accepted += p.Accepted
		ev.Rejected += p.Rejected
		ev.Solved += p.Solved
	}
	return ev
}

// poolKey partitions events by pool
func poolKey(index int) string {
	return "pool-" + strconv.Itoa(index)
}
