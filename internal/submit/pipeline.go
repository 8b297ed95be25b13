// Package submit sends found shares upstream in the encoding of the
// active protocol and suppresses duplicate resubmission.
package submit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Outcome classifies one submission
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	// Duplicate is synthetic: the share was sent before and no I/O happened.
	Duplicate
	// Stale means the pool changed under the share, which was dropped.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Duplicate:
		return "duplicate"
	default:
		return "stale"
	}
}

// Report describes a finished submission
type Report struct {
	Pool      int
	URL       string
	JobID     string
	Height    uint32
	Nonce     uint32
	Outcome   Outcome
	Reason    string
	ShareDiff float64
	NetDiff   float64
	Block     bool
	At        time.Time
}

// Observer receives every report. It runs on the submitting goroutine.
type Observer func(Report)

// StratumSubmitter is the stratum session shares are sent through
type StratumSubmitter interface {
	Submit(params []any) (uint64, <-chan stratum.SubmitResult, error)
	User() string
}

// ClientFunc returns the HTTP client of a pool
type ClientFunc func(p pool.Info) *rpc.Client

// Config configures a Pipeline
type Config struct {
	// ReplyTimeout bounds the wait for a stratum reply.
	ReplyTimeout time.Duration
}

// Pipeline encodes and sends shares. Duplicate checking follows the
// shared pool.Flags: once a pool rejects a duplicate, every pool gets
// checked for the rest of the run.
type Pipeline struct {
	desc      *algo.Descriptor
	registry  *pool.Registry
	flags     *pool.Flags
	shares    *ShareLog
	network   *work.Network
	cache     *work.Cache
	restarter *work.Restarter
	clients   ClientFunc
	cfg       Config
	logger    *log.Logger

	mu        sync.Mutex
	stratum   StratumSubmitter
	observers []Observer
	now       func() time.Time
}

// NewPipeline creates a pipeline
func NewPipeline(desc *algo.Descriptor, registry *pool.Registry, flags *pool.Flags, network *work.Network,
	cache *work.Cache, restarter *work.Restarter, clients ClientFunc, cfg Config, logger *log.Logger) *Pipeline {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 300 * time.Second
	}
	return &Pipeline{
		desc:      desc,
		registry:  registry,
		flags:     flags,
		shares:    NewShareLog(),
		network:   network,
		cache:     cache,
		restarter: restarter,
		clients:   clients,
		cfg:       cfg,
		logger:    logger.WithComponent("submit"),
		now:       time.Now,
	}
}

// ShareLog exposes the log for purges driven by new jobs
func (p *Pipeline) ShareLog() *ShareLog { return p.shares }

// SetStratum binds the live stratum session; nil detaches it
func (p *Pipeline) SetStratum(s StratumSubmitter) {
	p.mu.Lock()
	p.stratum = s
	p.mu.Unlock()
}

// Observe registers an observer
func (p *Pipeline) Observe(o Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

func (p *Pipeline) checkDups() bool {
	return p.desc.ForceDupCheck || p.flags.CheckDups()
}

// Submit sends solution idx of w to its pool
func (p *Pipeline) Submit(ctx context.Context, w *work.Item, idx int) (Report, error) {
	nonce := w.Nonces[idx]
	rep := Report{
		Pool:      w.Pool,
		JobID:     w.JobID,
		Height:    w.Height,
		Nonce:     nonce,
		ShareDiff: w.ShareDiff[idx],
		At:        p.now(),
	}
	info := p.registry.Get(w.Pool)
	rep.URL = rpc.Endpoint(info.Config.URL)
	rep.NetDiff = p.network.Difficulty()
	if rep.NetDiff == 0 && w.TxHex != "" {
		rep.NetDiff = w.TargetDiff
	}

	gen := p.registry.Generation()
	if w.Pool != p.registry.Current() {
		p.logger.Info("discarding share from previous pool", "pool", w.Pool, "job_id", w.JobID)
		rep.Outcome = Stale
		return rep, nil
	}

	if p.checkDups() {
		if at := p.shares.Sent(w.JobID, w.Xnonce2, nonce); !at.IsZero() {
			p.logger.Warn("nonce already submitted",
				"nonce", nonce, "job_id", w.JobID, "ago", p.now().Sub(at).Round(time.Second))
			p.forceRefresh()
			rep.Outcome = Duplicate
			rep.Reason = "duplicate"
			p.notify(rep)
			return rep, nil
		}
	}
	p.shares.Remember(w.JobID, w.Xnonce2, nonce)

	var (
		accepted bool
		reason   string
		err      error
	)
	switch {
	case info.Stratum:
		accepted, reason, err = p.sendStratum(ctx, w, idx)
	case w.TxHex != "":
		accepted, reason, err = p.sendBlock(ctx, info, w, idx)
	default:
		accepted, reason, err = p.sendGetwork(ctx, info, w, idx)
	}
	if err != nil {
		return rep, err
	}
	if p.registry.Moved(gen) {
		rep.Outcome = Stale
		return rep, errors.ErrSwitched
	}

	rep.Reason = reason
	rep.Outcome = Rejected
	if accepted {
		rep.Outcome = Accepted
	}
	rep.Block = accepted && rep.NetDiff > 0 && rep.ShareDiff >= rep.NetDiff
	p.registry.RecordShare(w.Pool, pool.ShareResult{
		Accepted:  accepted,
		Solved:    rep.Block,
		ShareDiff: rep.ShareDiff,
		At:        rep.At,
	})
	p.logger.LogShareResult(w.Pool, w.JobID, accepted, rep.ShareDiff, rep.NetDiff, reason)
	if rep.Block {
		p.logger.LogBlockFound(w.Pool, w.JobID, w.Height, rep.ShareDiff)
	}

	if !accepted && IsDuplicate(reason) {
		if p.flags.EnableCheckDups() {
			p.logger.Warn("pool rejects duplicates, enabling duplicate checking", "pool", w.Pool)
		}
		p.forceRefresh()
	}
	p.notify(rep)
	return rep, nil
}

func (p *Pipeline) forceRefresh() {
	p.cache.Invalidate()
	if p.restarter != nil {
		p.restarter.Broadcast()
	}
}

func (p *Pipeline) notify(rep Report) {
	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, o := range observers {
		o(rep)
	}
}

func (p *Pipeline) sendStratum(ctx context.Context, w *work.Item, idx int) (bool, string, error) {
	p.mu.Lock()
	s := p.stratum
	p.mu.Unlock()
	if s == nil {
		return false, "", errors.New(errors.ErrorTypeTransport, "submit.stratum", "no stratum session")
	}
	params := StratumParams(s.User(), w, idx, p.desc)
	id, ch, err := s.Submit(params)
	if err != nil {
		return false, "", err
	}

	timer := time.NewTimer(p.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, "", errors.Wrap(res.Err, errors.ErrorTypeTransport, "submit.stratum", "no reply").
				WithContext("id", id)
		}
		return res.Accepted, res.Reason, nil
	case <-timer.C:
		return false, "", errors.New(errors.ErrorTypeTransport, "submit.stratum", "reply timeout").
			WithContext("id", id)
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
}

func (p *Pipeline) sendBlock(ctx context.Context, info pool.Info, w *work.Item, idx int) (bool, string, error) {
	sub := w.Clone()
	sub.SetNonce(p.desc, w.Nonces[idx])
	reply, err := p.clients(info).Call(ctx, "submitblock", BlockParams(&sub, p.desc))
	if err != nil {
		return false, "", err
	}
	return BlockResult(reply.Result)
}

func (p *Pipeline) sendGetwork(ctx context.Context, info pool.Info, w *work.Item, idx int) (bool, string, error) {
	sub := w.Clone()
	sub.SetNonce(p.desc, w.Nonces[idx])
	reply, err := p.clients(info).Call(ctx, "getwork", []any{GetworkData(&sub, p.desc)})
	if err != nil {
		return false, "", err
	}
	ok, err := GetworkResult(reply.Result)
	if err != nil {
		return false, "", err
	}
	return ok, reply.RejectReason, nil
}
