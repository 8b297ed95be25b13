package postgres

import (
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/internal/work"
)

func TestShareFromReport(t *testing.T) {
	at := time.Unix(1700000000, 0)
	rep := submit.Report{
		Pool: 1, URL: "http://node:8332", JobID: "00105e5f", Height: 840000, Nonce: 0xffffffff,
		Outcome: submit.Rejected, Reason: "high-hash", ShareDiff: 0.5, NetDiff: 80e12, At: at,
	}
	s := ShareFromReport("minerd", rep)
	want := Share{
		Service: "minerd", Pool: 1, PoolURL: "http://node:8332", JobID: "00105e5f",
		BlockHeight: 840000, Nonce: 0xffffffff, Outcome: "rejected", Reason: "high-hash",
		ShareDiff: 0.5, NetworkDiff: 80e12, SubmittedAt: at,
	}
	if *s != want {
		t.Errorf("ShareFromReport() = %+v, want %+v", *s, want)
	}
}

func TestPoolStatsFromSnapshot(t *testing.T) {
	snap := &stats.Snapshot{
		At:       time.Unix(10, 0),
		Service:  "minerd",
		Hashrate: 900,
		Current:  0,
		Pools: []pool.Info{
			{Index: 0, Config: config.PoolConfig{Name: "a"}, Accepted: 3, WaitTime: 1500 * time.Millisecond},
			{Index: 1, Config: config.PoolConfig{Name: "b"}, Rejected: 2},
		},
		Network: work.NetworkState{Difficulty: 7},
	}
	rows := PoolStatsFromSnapshot(snap)
	if len(rows) != 2 {
		t.Fatalf("PoolStatsFromSnapshot() = %d rows, want 2", len(rows))
	}
	tests := []struct {
		row      *PoolStat
		name     string
		current  bool
		hashrate float64
		accepted int64
		rejected int64
		waitSecs float64
	}{
		{rows[0], "a", true, 900, 3, 0, 1.5},
		{rows[1], "b", false, 0, 0, 2, 0},
	}
	for _, tt := range tests {
		r := tt.row
		if r.Name != tt.name || r.IsCurrent != tt.current || r.Hashrate != tt.hashrate ||
			r.Accepted != tt.accepted || r.Rejected != tt.rejected || r.WaitSecs != tt.waitSecs {
			t.Errorf("row %s = %+v", tt.name, r)
		}
		if r.NetworkDiff != 7 || !r.RecordedAt.Equal(snap.At) || r.Service != "minerd" {
			t.Errorf("row %s shared fields = %+v", tt.name, r)
		}
	}
}
