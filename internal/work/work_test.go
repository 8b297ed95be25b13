package work

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/algo"
)

func TestPartitionDisjointAndCovering(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 8, 13, 64} {
		span := uint64(1<<32) / uint64(n)
		var prevEnd uint64
		for i := 0; i < n; i++ {
			s, e := Partition(i, n)
			if uint64(s) != uint64(i)*span {
				t.Errorf("Partition(%d,%d) start = %d, want %d", i, n, s, uint64(i)*span)
			}
			if i > 0 && uint64(s) != prevEnd+1 {
				t.Errorf("Partition(%d,%d) start = %d, want previous end + 1 = %d", i, n, s, prevEnd+1)
			}
			if e < s {
				t.Errorf("Partition(%d,%d) = [%d,%d], want non-empty", i, n, s, e)
			}
			prevEnd = uint64(e)
		}
		if prevEnd != math.MaxUint32 {
			t.Errorf("Partition(last,%d) end = %d, want %d", n, prevEnd, uint32(math.MaxUint32))
		}
	}
}

// A worker scanning as fast as it can must stop on its own last nonce,
// one before the next worker's first.
func TestPartitionScanStopsBeforeNeighbour(t *testing.T) {
	for _, n := range []int{2, 3, 8} {
		for i := 0; i < n-1; i++ {
			s, e := Partition(i, n)
			next, _ := Partition(i+1, n)
			maxNonce, _ := MaxNonce(ScanParams{Start: s, End: e, Hashrate: 1e12, Budget: time.Minute, MinScan: 0x1000})
			if maxNonce >= next {
				t.Errorf("worker %d/%d maxNonce = %#x, want < next start %#x", i, n, maxNonce, next)
			}
			if maxNonce != next-1 {
				t.Errorf("worker %d/%d maxNonce = %#x, want %#x", i, n, maxNonce, next-1)
			}
		}
	}
}

func TestMaxNonce(t *testing.T) {
	tests := []struct {
		name    string
		p       ScanParams
		wantMax uint32
		wantEnd uint32
	}{
		{
			name:    "no rate uses floor",
			p:       ScanParams{Start: 0, End: 0x80000000, Budget: 20 * time.Second, MinScan: 0x100000},
			wantMax: 0xfffff,
			wantEnd: 0x80000000,
		},
		{
			name:    "rate times budget",
			p:       ScanParams{Start: 100, End: 0x80000000, Hashrate: 1e6, Budget: 20 * time.Second, MinScan: 0x1000},
			wantMax: 100 + 20_000_000,
			wantEnd: 0x80000000,
		},
		{
			name:    "capped at partition end",
			p:       ScanParams{Start: 0x7fff0000, End: 0x80000000, Hashrate: 1e9, Budget: 30 * time.Second, MinScan: 0x1000},
			wantMax: 0x80000000,
			wantEnd: 0x80000000,
		},
		{
			name:    "tail widened to full space",
			p:       ScanParams{Start: 0xfffff000, End: math.MaxUint32 - 100, Hashrate: 1e9, Budget: time.Second, MinScan: 0x1000},
			wantMax: math.MaxUint32,
			wantEnd: math.MaxUint32,
		},
		{
			name:    "cursor past end",
			p:       ScanParams{Start: 0x90000000, End: 0x80000000, Budget: time.Second, MinScan: 0x1000},
			wantMax: math.MaxUint32,
			wantEnd: math.MaxUint32,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMax, gotEnd := MaxNonce(tt.p)
			if gotMax != tt.wantMax || gotEnd != tt.wantEnd {
				t.Errorf("MaxNonce() = %#x, %#x, want %#x, %#x", gotMax, gotEnd, tt.wantMax, tt.wantEnd)
			}
		})
	}
}

func TestSameHeader(t *testing.T) {
	d, _ := algo.Lookup("sha256d")
	var a Item
	for i := range a.Data {
		a.Data[i] = uint32(i + 1)
	}
	b := a.Clone()
	b.SetNonce(d, 12345)
	b.Data[d.NtimeWord]++
	if !SameHeader(&a, &b, d) {
		t.Errorf("SameHeader() = false after nonce/ntime change, want true")
	}
	b.Data[9]++
	if SameHeader(&a, &b, d) {
		t.Errorf("SameHeader() = true after merkle change, want false")
	}
}

func TestItemJobID(t *testing.T) {
	a := Item{JobID: "0abcdef 1f"}
	b := Item{JobID: "1234567 1f"}
	c := Item{JobID: "0abcdef 20"}
	if a.PoolJobID() != "1f" {
		t.Errorf("PoolJobID() = %q, want 1f", a.PoolJobID())
	}
	if !a.SameJob(&b) {
		t.Errorf("SameJob() = false for same pool job, want true")
	}
	if a.SameJob(&c) {
		t.Errorf("SameJob() = true for different pool job, want false")
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := Item{Xnonce2: []byte{1, 2}, Aux: []byte{3}}
	b := a.Clone()
	b.Xnonce2[0] = 9
	b.Aux[0] = 9
	if a.Xnonce2[0] != 1 || a.Aux[0] != 3 {
		t.Errorf("Clone() shares slices with original")
	}
}

func TestAddShare(t *testing.T) {
	var w Item
	w.AddShare(1, 2.5)
	w.AddShare(2, 3.5)
	w.AddShare(3, 4.5)
	if w.ValidNonces != 2 || w.Nonces[1] != 2 || w.ShareDiff[1] != 3.5 {
		t.Errorf("AddShare() = %d %v %v, want 2 nonces", w.ValidNonces, w.Nonces, w.ShareDiff)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	now := time.Now()
	if !c.Expired(now, time.Minute) {
		t.Errorf("Expired() on empty cache = false, want true")
	}

	item := Item{JobID: "00000000 a", Xnonce2: []byte{1}}
	c.Store(item, now)
	item.Xnonce2[0] = 7
	got, at := c.Snapshot()
	if got.Xnonce2[0] != 1 || !at.Equal(now) {
		t.Errorf("Snapshot() = %v at %v, want stored copy", got.Xnonce2, at)
	}
	if c.Expired(now.Add(10*time.Second), time.Minute) {
		t.Errorf("Expired() = true before scan time, want false")
	}

	c.Invalidate()
	if !c.Expired(now, time.Minute) {
		t.Errorf("Expired() after Invalidate = false, want true")
	}
	c.Clear()
	if got, _ := c.Snapshot(); got.JobID != "" {
		t.Errorf("Snapshot() after Clear = %q, want empty", got.JobID)
	}
}

func TestRestarterCancelsScan(t *testing.T) {
	r := NewRestarter()
	ctx, cancel := r.ScanContext(context.Background())
	defer cancel()
	r.Broadcast()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("ScanContext not cancelled by Broadcast")
	}

	ctx2, cancel2 := r.ScanContext(context.Background())
	defer cancel2()
	select {
	case <-ctx2.Done():
		t.Fatal("new ScanContext cancelled by an earlier Broadcast")
	default:
	}
}

func TestNetworkStratumDiff(t *testing.T) {
	n := NewNetwork()
	if !n.SetStratumDiff(8) {
		t.Errorf("SetStratumDiff(8) = false, want changed")
	}
	if n.SetStratumDiff(8) {
		t.Errorf("SetStratumDiff(8) again = true, want unchanged")
	}
	n.SetMiningInfo(12, 0, 100)
	s := n.Snapshot()
	if s.Difficulty != 12 || s.Blocks != 100 || s.StratumDiff != 8 {
		t.Errorf("Snapshot() = %+v", s)
	}
}
