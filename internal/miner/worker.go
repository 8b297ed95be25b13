// Package miner runs the scanning workers: each one keeps a private copy
// of the cached work, scans its slice of the nonce space with the compute
// engine and hands solutions to the submission side.
package miner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/throttle"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/internal/workio"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

const (
	// pushedBudget is the scan budget while jobs are pushed to us
	pushedBudget = 20 * time.Second
	// longPollScanTime replaces the scan time as refresh age under long polling
	longPollScanTime = 60 * time.Second
	// refreshMargin is how close to its partition end a worker asks for work
	refreshMargin = 0x100

	throttlePause = 5 * time.Second
	emptyPause    = time.Second
	switchPause   = 100 * time.Millisecond
)

// Engine scans nonces of one item. It returns after a solution, at
// maxNonce or when ctx ends, leaving w's nonce word on the last nonce
// tried and solutions recorded with w.AddShare. Engines for algorithms
// with proof payloads also set w.Aux.
type Engine interface {
	Scan(ctx context.Context, w *work.Item, maxNonce uint32) (uint64, error)
}

// WorkSource is the protocol side the workers talk to
type WorkSource interface {
	GetWork(ctx context.Context, pool int, since time.Time) error
	Regenerate(ctx context.Context, pool int) error
	SubmitWork(w *work.Item, idx int) error
}

// Validator re-checks a solution before it is submitted and returns its
// share difficulty
type Validator interface {
	ValidateShare(w *work.Item, idx int) (float64, error)
}

// Gate decides whether a worker may scan
type Gate interface {
	Allow(worker int) throttle.Decision
}

// Config configures the workers
type Config struct {
	Threads    int
	ScanTime   time.Duration
	FailPause  time.Duration
	Benchmark  bool
	MaxLogRate time.Duration
}

// Deps are the shared structures every worker reads
type Deps struct {
	Desc      *algo.Descriptor
	Registry  *pool.Registry
	Cache     *work.Cache
	Network   *work.Network
	Restarter *work.Restarter
	Source    WorkSource
	Gate      Gate
	Meter     *stats.Meter
	// Validator is optional; without one engine results are trusted.
	Validator Validator
}

// Worker is one scanning thread
type Worker struct {
	Deps
	id      int
	threads int
	cfg     Config
	engine  Engine
	logger  *log.Logger
	logRate *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool

	item     work.Item
	itemAt   time.Time
	gen      uint64
	start    uint32
	end      uint32
	cursor   uint32
	spent    bool
	lastPool int
	hwErrors uint64
}

// NewWorker creates worker id of cfg.Threads
func NewWorker(id int, deps Deps, engine Engine, cfg Config, logger *log.Logger) *Worker {
	threads := max(cfg.Threads, 1)
	every := cfg.MaxLogRate
	if every <= 0 {
		every = 5 * time.Second
	}
	start, end := work.Partition(id, threads)
	return &Worker{
		Deps:     deps,
		id:       id,
		threads:  threads,
		cfg:      cfg,
		engine:   engine,
		logger:   logger.WithComponent("miner").WithWorker(id),
		logRate:  rate.NewLimiter(rate.Every(every), 1),
		now:      time.Now,
		sleep:    sleepCtx,
		start:    start,
		end:      end,
		cursor:   start,
		lastPool: -1,
	}
}

// Run scans until ctx ends. It returns an *workio.ExitError when a
// limit ends the run with a single pool.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("worker started", "nonce_start", w.start, "nonce_end", w.end)
	for {
		if ctx.Err() != nil {
			return nil
		}
		cont, err := w.step(ctx)
		if errors.Is(err, errors.ErrQueueFrozen) {
			w.logger.Debug("work queue closed, stopping")
			return nil
		}
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// step runs one scheduling pass; false stops the worker
func (w *Worker) step(ctx context.Context) (bool, error) {
	reg := w.Registry

	if lim := reg.LimitReached(); lim != pool.LimitNone && !reg.Switching() {
		if reg.Len() > 1 {
			w.logger.Info("pool limit reached, rotating", "limit", lim.String(), "pool", reg.Current())
			reg.SwitchNext()
			return true, nil
		}
		w.logger.Info("pool limit reached, exiting", "limit", lim.String())
		return false, &workio.ExitError{Code: workio.ExitTimeLimit,
			Err: errors.New(errors.ErrorTypeInternal, "miner.limit", lim.String()+" limit reached")}
	}

	if !w.allowed(ctx) {
		return ctx.Err() == nil, nil
	}

	poolIdx := reg.Current()
	info := reg.Get(poolIdx)
	cached, at := w.Cache.Snapshot()

	if w.needsWork(info, at) {
		return ctx.Err() == nil, w.refresh(ctx, info, at)
	}
	if at.IsZero() || cached.Empty() {
		if !w.sleep(ctx, emptyPause) {
			return false, nil
		}
		reg.AddWait(poolIdx, emptyPause)
		return true, nil
	}

	w.adopt(&cached, at, poolIdx)
	if w.spent {
		// nothing left in our slice until the next refresh
		switch {
		case w.cfg.Benchmark:
			w.item.Data[w.Desc.NonceWord-1]++
			w.cursor = w.start
			w.spent = false
		case info.Stratum:
			return ctx.Err() == nil, w.refresh(ctx, info, at)
		default:
			if !w.sleep(ctx, emptyPause) {
				return false, nil
			}
			return true, nil
		}
	}

	return true, w.scan(ctx, info)
}

// allowed applies the throttle; false means the worker paused
func (w *Worker) allowed(ctx context.Context) bool {
	if w.Gate == nil || w.cfg.Benchmark {
		return true
	}
	reg := w.Registry
	dec := w.Gate.Allow(w.id)
	cur := reg.Current()
	if dec.Allowed {
		if reg.Get(cur).OnHold {
			reg.SetOnHold(cur, false)
		}
		return true
	}

	if dec.Rotate {
		if _, ok := reg.SwitchNext(); ok {
			w.logger.Info("rotating to a pool with other limits", "reason", dec.Reason)
			return false
		}
	}
	if reg.Switching() {
		if !reg.SwitchExpired() {
			w.sleep(ctx, switchPause)
			return false
		}
		w.logger.Warn("pool switch timed out, idling")
	}
	reg.SetOnHold(cur, true)
	if w.sleep(ctx, throttlePause) {
		reg.AddWait(cur, throttlePause)
	}
	return false
}

// needsWork decides whether the protocol side must refresh the cache
func (w *Worker) needsWork(info pool.Info, at time.Time) bool {
	if info.Stratum && !w.cfg.Benchmark {
		return false
	}
	if at.IsZero() {
		return true
	}
	age := w.cfg.ScanTime
	if info.Config.ScanTime > 0 {
		age = info.Config.ScanTime
	}
	if info.LongPoll {
		age = max(age, longPollScanTime)
	}
	if w.now().Sub(at) >= age {
		return true
	}
	// our slice is spent on the cached job
	sameJob := w.lastPool == info.Index && w.itemAt.Equal(at)
	return sameJob && !w.cfg.Benchmark && (w.spent || uint64(w.cursor)+refreshMargin >= uint64(w.end))
}

// refresh asks the protocol side for new work and waits for it
func (w *Worker) refresh(ctx context.Context, info pool.Info, since time.Time) error {
	var err error
	if info.Stratum && !w.cfg.Benchmark {
		err = w.Source.Regenerate(ctx, info.Index)
	} else {
		err = w.Source.GetWork(ctx, info.Index, since)
	}
	switch {
	case err == nil, errors.Is(err, errors.ErrSwitched), ctx.Err() != nil:
		return nil
	case errors.Is(err, errors.ErrQueueFrozen):
		return err
	}
	w.logger.WithError(err).Debug("work refresh failed", "pool", info.Index)
	pause := w.cfg.FailPause
	if pause <= 0 || info.Stratum {
		pause = emptyPause
	}
	w.sleep(ctx, pause)
	return nil
}

// adopt replaces the private copy when the cached job changed
func (w *Worker) adopt(cached *work.Item, at time.Time, poolIdx int) {
	gen := w.Registry.Generation()
	same := w.lastPool == poolIdx && w.gen == gen &&
		w.item.JobID == cached.JobID && work.SameHeader(&w.item, cached, w.Desc)
	if same {
		// targets and stratum difficulty may move within a job
		w.item.Target = cached.Target
		w.item.TargetDiff = cached.TargetDiff
		w.item.StratumDiff = cached.StratumDiff
		w.itemAt = at
		return
	}

	w.item = cached.Clone()
	w.item.ValidNonces = 0
	w.itemAt = at
	w.gen = gen
	w.lastPool = poolIdx
	w.start, w.end = work.Partition(w.id, w.threads)
	w.cursor = w.start
	w.spent = false
	if w.cfg.Benchmark && w.Desc.NonceWord > 0 {
		// every worker hashes a distinct header
		w.item.Data[w.Desc.NonceWord-1] += uint32(w.id)
	}
}

// budget returns the time this pass may scan
func (w *Worker) budget(info pool.Info) time.Duration {
	var b time.Duration
	if info.Stratum || info.LongPoll {
		b = pushedBudget
	} else {
		scan := w.cfg.ScanTime
		if info.Config.ScanTime > 0 {
			scan = info.Config.ScanTime
		}
		b = scan - w.now().Sub(w.itemAt)
	}
	if rem := w.Registry.Remaining(); rem > 0 && rem < b {
		b = rem
	}
	return b
}

func (w *Worker) scan(ctx context.Context, info pool.Info) error {
	d := w.Desc
	var hashrate float64
	if w.Meter != nil {
		hashrate = w.Meter.Rate(w.id)
	}
	maxNonce, end := work.MaxNonce(work.ScanParams{
		Start:    w.cursor,
		End:      w.end,
		Hashrate: hashrate,
		Budget:   w.budget(info),
		MinScan:  d.MinScan,
	})
	w.end = end

	w.item.SetNonce(d, w.cursor)
	w.item.ValidNonces = 0
	w.item.ScannedFrom = w.cursor

	sctx, cancel := w.Restarter.ScanContext(ctx)
	started := w.now()
	hashes, err := w.engine.Scan(sctx, &w.item, maxNonce)
	cancel()
	elapsed := w.now().Sub(started)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "miner.scan", "engine failed")
	}

	last := w.item.Nonce(d)
	w.item.ScannedTo = last
	if last >= w.end {
		w.spent = true
	} else {
		w.cursor = last + 1
	}

	if w.Meter != nil {
		rate := w.Meter.Record(w.id, hashes, elapsed)
		if rate > 0 && w.logRate.Allow() {
			w.logger.LogHashrate(w.id, rate)
		}
	}

	for i := 0; i < w.item.ValidNonces; i++ {
		if !w.verify(i) {
			continue
		}
		w.logger.Debug("solution found", "job_id", w.item.JobID, "nonce", w.item.Nonces[i],
			"share_diff", w.item.ShareDiff[i])
		if validation.IsBlockCandidate(w.item.ShareDiff[i], w.Network.Difficulty()) {
			w.logger.Info("block candidate found", "job_id", w.item.JobID, "height", w.item.Height)
		}
		if err := w.Source.SubmitWork(&w.item, i); err != nil {
			w.logger.WithError(err).Debug("solution not queued", "nonce", w.item.Nonces[i])
		}
	}
	w.item.ValidNonces = 0
	return nil
}

// verify re-checks solution idx and stores the host share difficulty
func (w *Worker) verify(idx int) bool {
	if w.Validator == nil {
		return true
	}
	diff, err := w.Validator.ValidateShare(&w.item, idx)
	if err != nil {
		w.hwErrors++
		w.logger.WithError(err).Warn("discarding solution", "nonce", w.item.Nonces[idx],
			"hw_errors", w.hwErrors)
		return false
	}
	w.item.ShareDiff[idx] = diff
	return true
}

// HWErrors returns the number of solutions the validator refused
func (w *Worker) HWErrors() uint64 { return w.hwErrors }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
