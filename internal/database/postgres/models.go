package postgres

import (
	"time"

	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
)

// Share is one submission outcome
type Share struct {
	ID          int64     `db:"id"`
	Service     string    `db:"service"`
	Pool        int       `db:"pool"`
	PoolURL     string    `db:"pool_url"`
	JobID       string    `db:"job_id"`
	BlockHeight int64     `db:"block_height"`
	Nonce       int64     `db:"nonce"`
	Outcome     string    `db:"outcome"`
	Reason      string    `db:"reason"`
	ShareDiff   float64   `db:"share_diff"`
	NetworkDiff float64   `db:"network_diff"`
	IsBlock     bool      `db:"is_block"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// PoolStat is one periodic row of pool counters
type PoolStat struct {
	ID          int64     `db:"id"`
	Service     string    `db:"service"`
	Pool        int       `db:"pool"`
	Name        string    `db:"name"`
	IsCurrent   bool      `db:"is_current"`
	Accepted    int64     `db:"accepted"`
	Rejected    int64     `db:"rejected"`
	Solved      int64     `db:"solved"`
	BestShare   float64   `db:"best_share"`
	WaitSecs    float64   `db:"wait_secs"`
	Hashrate    float64   `db:"hashrate"`
	NetworkDiff float64   `db:"network_diff"`
	RecordedAt  time.Time `db:"recorded_at"`
}

// ShareFromReport maps a submission report to a row
func ShareFromReport(service string, rep submit.Report) *Share {
	return &Share{
		Service:     service,
		Pool:        rep.Pool,
		PoolURL:     rep.URL,
		JobID:       rep.JobID,
		BlockHeight: int64(rep.Height),
		Nonce:       int64(rep.Nonce),
		Outcome:     rep.Outcome.String(),
		Reason:      rep.Reason,
		ShareDiff:   rep.ShareDiff,
		NetworkDiff: rep.NetDiff,
		IsBlock:     rep.Block,
		SubmittedAt: rep.At,
	}
}

// PoolStatsFromSnapshot returns one row per pool. Only the current pool
// carries the miner hashrate.
func PoolStatsFromSnapshot(snap *stats.Snapshot) []*PoolStat {
	rows := make([]*PoolStat, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		current := p.Index == snap.Current
		row := &PoolStat{
			Service:     snap.Service,
			Pool:        p.Index,
			Name:        p.Config.Name,
			IsCurrent:   current,
			Accepted:    int64(p.Accepted),
			Rejected:    int64(p.Rejected),
			Solved:      int64(p.Solved),
			BestShare:   p.BestShare,
			WaitSecs:    p.WaitTime.Seconds(),
			NetworkDiff: snap.Network.Difficulty,
			RecordedAt:  snap.At,
		}
		if current {
			row.Hashrate = snap.Hashrate
		}
		rows = append(rows, row)
	}
	return rows
}
