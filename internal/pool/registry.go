// Package pool keeps the ordered pool list, the current pool, the switch
// generation counter and every per-pool counter. One mutex guards all of
// it; it is never held across network I/O.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/pkg/log"
)

// SwitchTimeout bounds how long a conditional rotation may stay pending
const SwitchTimeout = 35 * time.Second

// Info is a copy of one pool's configuration and live state
type Info struct {
	Index  int
	Config config.PoolConfig

	// Active protocol flags
	Stratum  bool
	LongPoll bool
	GBT      bool

	Accepted  uint64
	Rejected  uint64
	Solved    uint64
	BestShare float64
	LastShare time.Time
	WaitTime  time.Duration
	OnHold    bool

	// Session counters reset whenever the pool becomes current.
	StartedAt     time.Time
	SessionShares int
}

// SwitchFunc observes completed switch requests
type SwitchFunc func(from, to int, generation uint64)

// Registry owns the pool list
type Registry struct {
	mu         sync.Mutex
	pools      []Info
	current    int
	switching  bool
	switchedAt time.Time
	generation atomic.Uint64
	onSwitch   []SwitchFunc
	logger     *log.Logger
	now        func() time.Time
}

// NewRegistry creates a registry over cfgs. The first enabled pool
// becomes current.
func NewRegistry(cfgs []config.PoolConfig, logger *log.Logger) *Registry {
	r := &Registry{
		pools:  make([]Info, len(cfgs)),
		logger: logger.WithComponent("pool"),
		now:    time.Now,
	}
	for i, c := range cfgs {
		r.pools[i] = Info{
			Index:   i,
			Config:  c,
			Stratum: c.Stratum(),
		}
	}
	if first := r.firstValidLocked(0); first >= 0 {
		r.current = first
	}
	if len(r.pools) > 0 {
		r.pools[r.current].StartedAt = r.now()
	}
	return r
}

// OnSwitch registers fn to run after every switch, outside the lock
func (r *Registry) OnSwitch(fn SwitchFunc) {
	r.mu.Lock()
	r.onSwitch = append(r.onSwitch, fn)
	r.mu.Unlock()
}

// Len returns the number of configured pools
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Current returns the index of the current pool
func (r *Registry) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// CurrentInfo returns a copy of the current pool
func (r *Registry) CurrentInfo() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[r.current]
}

// Get returns a copy of pool i
func (r *Registry) Get(i int) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[i]
}

// All returns a copy of every pool
func (r *Registry) All() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, len(r.pools))
	copy(out, r.pools)
	return out
}

// Generation returns the switch generation counter
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Moved reports whether a switch happened since gen was observed
func (r *Registry) Moved(gen uint64) bool {
	return r.generation.Load() != gen
}

// FirstValid returns the first enabled pool at or after from, wrapping,
// or -1 when every pool is disabled.
func (r *Registry) FirstValid(from int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstValidLocked(from)
}

func (r *Registry) firstValidLocked(from int) int {
	n := len(r.pools)
	if n == 0 {
		return -1
	}
	from = ((from % n) + n) % n
	for k := 0; k < n; k++ {
		i := (from + k) % n
		if !r.pools[i].Config.Disabled {
			return i
		}
	}
	return -1
}

// NextValid returns the enabled pool after the current one
func (r *Registry) NextValid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstValidLocked(r.current + 1)
}

// Switch makes target current and bumps the generation. Concurrent
// callers collapse onto the switch already in progress: only the first
// returns true until CompleteSwitch is called.
func (r *Registry) Switch(target int) (uint64, bool) {
	r.mu.Lock()
	if r.switching || target < 0 || target >= len(r.pools) {
		r.mu.Unlock()
		return r.generation.Load(), false
	}
	from := r.current
	r.switching = true
	r.switchedAt = r.now()
	r.current = target
	p := &r.pools[target]
	p.StartedAt = r.switchedAt
	p.SessionShares = 0
	p.OnHold = false
	gen := r.generation.Add(1)
	hooks := append([]SwitchFunc(nil), r.onSwitch...)
	url := p.Config.URL
	r.mu.Unlock()

	r.logger.LogPoolSwitch(from, target, url, gen)
	for _, fn := range hooks {
		fn(from, target, gen)
	}
	return gen, true
}

// SwitchNext rotates to the next enabled pool. It does nothing with a
// single enabled pool.
func (r *Registry) SwitchNext() (uint64, bool) {
	next := r.NextValid()
	if next < 0 || next == r.Current() {
		return r.generation.Load(), false
	}
	return r.Switch(next)
}

// CompleteSwitch is called by the protocol goroutine once it has
// resynchronized against the new current pool.
func (r *Registry) CompleteSwitch() {
	r.mu.Lock()
	r.switching = false
	r.mu.Unlock()
}

// Switching reports whether a switch is pending
func (r *Registry) Switching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switching
}

// SwitchExpired reports a pending switch older than SwitchTimeout and
// drops it so the next request can proceed.
func (r *Registry) SwitchExpired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.switching && r.now().Sub(r.switchedAt) > SwitchTimeout {
		r.switching = false
		return true
	}
	return false
}

// SetURL replaces the URL of pool i, used by client.reconnect and X-Stratum
func (r *Registry) SetURL(i int, url string) {
	r.mu.Lock()
	p := &r.pools[i]
	p.Config.URL = url
	p.Stratum = p.Config.Stratum()
	r.mu.Unlock()
}

// SetLongPoll records whether pool i has an active long poll
func (r *Registry) SetLongPoll(i int, on bool) {
	r.mu.Lock()
	r.pools[i].LongPoll = on
	r.mu.Unlock()
}

// SetGBT records whether pool i is driven by getblocktemplate
func (r *Registry) SetGBT(i int, on bool) {
	r.mu.Lock()
	r.pools[i].GBT = on
	r.mu.Unlock()
}

// SetOnHold marks pool i as throttled
func (r *Registry) SetOnHold(i int, on bool) {
	r.mu.Lock()
	r.pools[i].OnHold = on
	r.mu.Unlock()
}

// AddWait adds throttled time to pool i
func (r *Registry) AddWait(i int, d time.Duration) {
	r.mu.Lock()
	r.pools[i].WaitTime += d
	r.mu.Unlock()
}

// ShareResult is the outcome of one submitted share
type ShareResult struct {
	Accepted  bool
	Solved    bool
	ShareDiff float64
	At        time.Time
}

// RecordShare updates the counters of pool i
func (r *Registry) RecordShare(i int, res ShareResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.pools[i]
	if res.Accepted {
		p.Accepted++
	} else {
		p.Rejected++
	}
	if res.Solved {
		p.Solved++
	}
	if res.ShareDiff > p.BestShare {
		p.BestShare = res.ShareDiff
	}
	p.LastShare = res.At
	p.SessionShares++
}

// Limit names a per-pool limit that was reached
type Limit int

const (
	LimitNone Limit = iota
	LimitTime
	LimitShares
)

func (l Limit) String() string {
	switch l {
	case LimitTime:
		return "time"
	case LimitShares:
		return "shares"
	default:
		return "none"
	}
}

// LimitReached reports whether the current pool hit its time or share
// limit since it became current.
func (r *Registry) LimitReached() Limit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pools) == 0 {
		return LimitNone
	}
	p := &r.pools[r.current]
	if p.Config.TimeLimit > 0 && !p.StartedAt.IsZero() && r.now().Sub(p.StartedAt) >= p.Config.TimeLimit {
		return LimitTime
	}
	if p.Config.SharesLimit > 0 && p.SessionShares >= p.Config.SharesLimit {
		return LimitShares
	}
	return LimitNone
}

// Remaining returns the time left before the current pool's time limit,
// or zero when no limit is set.
func (r *Registry) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pools) == 0 {
		return 0
	}
	p := &r.pools[r.current]
	if p.Config.TimeLimit <= 0 || p.StartedAt.IsZero() {
		return 0
	}
	left := p.Config.TimeLimit - r.now().Sub(p.StartedAt)
	if left < time.Second {
		left = time.Second
	}
	return left
}
