package workio

import (
	"context"
	"time"

	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/provider"
	"github.com/bardlex/gominer/internal/queue"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// CommandKind tags an orchestrator command
type CommandKind int

const (
	CmdGetWork CommandKind = iota
	CmdSubmitWork
	CmdAbort
)

func (k CommandKind) String() string {
	switch k {
	case CmdGetWork:
		return "get_work"
	case CmdSubmitWork:
		return "submit_work"
	default:
		return "abort"
	}
}

// Command is one request to the orchestrator
type Command struct {
	Kind CommandKind
	Pool int

	// Since is the cache time the requesting worker saw. A get-work
	// command is answered without I/O when the cache moved past it.
	Since time.Time

	Item  work.Item
	Index int

	reply chan error
}

func (c *Command) respond(err error) {
	if c.reply != nil {
		c.reply <- err
	}
}

// Config configures the orchestrator
type Config struct {
	Retries      int // -1 retries forever
	FailPause    time.Duration
	Failover     bool
	Benchmark    bool
	WantLongPoll bool
	WantStratum  bool
}

// Deps are the shared structures the orchestrator drives
type Deps struct {
	Registry  *pool.Registry
	Selector  *provider.Selector
	Pipeline  *submit.Pipeline
	Probe     *provider.NetProbe
	Cache     *work.Cache
	Network   *work.Network
	Restarter *work.Restarter
}

// Orchestrator owns the HTTP side of the pools. Workers hand it typed
// commands through a queue; it is the only writer of the cache for
// getwork and GBT pools apart from the long-poll notifier.
type Orchestrator struct {
	Deps
	cfg      Config
	queue    *queue.Queue[Command]
	longpoll *LongPoll
	logger   *log.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, cfg Config, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		Deps:   deps,
		cfg:    cfg,
		queue:  queue.New[Command](),
		logger: logger.WithComponent("workio"),
		now:    time.Now,
	}
}

// SetLongPoll attaches the notifier started when a pool advertises long polling
func (o *Orchestrator) SetLongPoll(lp *LongPoll) { o.longpoll = lp }

// GetWork asks for fresh work from pool and waits until the cache holds it
func (o *Orchestrator) GetWork(ctx context.Context, pool int, since time.Time) error {
	reply := make(chan error, 1)
	if err := o.queue.Push(Command{Kind: CmdGetWork, Pool: pool, Since: since, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitWork queues solution idx of w. It does not wait for the pool.
func (o *Orchestrator) SubmitWork(w *work.Item, idx int) error {
	return o.queue.Push(Command{Kind: CmdSubmitWork, Pool: w.Pool, Item: w.Clone(), Index: idx})
}

// Regenerate rebuilds the cache from the current stratum job with the
// next extranonce2, for a worker that exhausted its nonce range.
func (o *Orchestrator) Regenerate(ctx context.Context, pool int) error {
	gen := o.Registry.Generation()
	res, err := o.Selector.Stratum().Regenerate(ctx)
	if err != nil {
		return err
	}
	if o.Registry.Moved(gen) || pool != o.Registry.Current() {
		return errors.ErrSwitched
	}
	res.Item.Pool = pool

	stored := false
	o.Cache.Update(func(item *work.Item, at *time.Time) {
		// a notify adopted while we built keeps the slot
		if item.Empty() || item.PoolJobID() != res.Item.PoolJobID() {
			return
		}
		*item = res.Item.Clone()
		*at = o.now()
		stored = true
	})
	if !stored {
		o.logger.Debug("regenerated work superseded by a newer job", "pool", pool, "job_id", res.Item.PoolJobID())
	}
	return nil
}

// Abort stops Run once the commands already queued are handled
func (o *Orchestrator) Abort() {
	_ = o.queue.Push(Command{Kind: CmdAbort})
}

// Pending returns the number of queued commands
func (o *Orchestrator) Pending() int { return o.queue.Len() }

// Run serves commands until ctx ends or Abort. It returns an *ExitError
// when the run cannot continue.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.drain()
	for {
		cmd, err := o.queue.Pop(ctx)
		if err != nil {
			return nil
		}

		switch cmd.Kind {
		case CmdGetWork:
			err = o.getWork(ctx, &cmd)
		case CmdSubmitWork:
			err = o.submitWork(ctx, &cmd)
		default:
			o.logger.Debug("abort requested")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// drain freezes the queue and fails every command still waiting
func (o *Orchestrator) drain() {
	o.queue.Freeze()
	for {
		cmd, ok := o.queue.TryPop()
		if !ok {
			return
		}
		cmd.respond(errors.ErrQueueFrozen)
	}
}

func (o *Orchestrator) getWork(ctx context.Context, cmd *Command) error {
	gen := o.Registry.Generation()
	if cmd.Pool != o.Registry.Current() {
		cmd.respond(errors.ErrSwitched)
		return nil
	}
	if at := o.Cache.Time(); !at.IsZero() && at.After(cmd.Since) {
		// another worker refreshed the cache meanwhile
		cmd.respond(nil)
		return nil
	}
	info := o.Registry.Get(cmd.Pool)

	policy := retry.PoolConfig(o.cfg.Retries, o.cfg.FailPause)
	policy.OnRetry = func(attempt int, err error) error {
		if o.Registry.Moved(gen) {
			return errors.ErrSwitched
		}
		o.logger.WithError(err).Error("get work failed, retrying",
			"pool", cmd.Pool, "attempt", attempt+1, "pause", o.cfg.FailPause)
		return nil
	}

	start := o.now()
	res, err := retry.DoWithResult(ctx, policy, func() (*provider.Result, error) {
		res, err := o.Selector.Fetch(ctx, info)
		var rpcErr *rpc.Error
		if err != nil && errors.As(err, &rpcErr) && !rpc.IsMethodNotFound(err) {
			// daemon-side errors such as "still syncing" are retried
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "get_work", "pool error").WithRetryable(true)
		}
		return res, err
	})
	if err != nil {
		cmd.respond(err)
		return o.escalate(ctx, cmd.Pool, err)
	}
	if o.Registry.Moved(gen) {
		o.logger.Debug("discarding work fetched before a pool switch", "pool", cmd.Pool)
		cmd.respond(errors.ErrSwitched)
		return nil
	}
	o.logger.LogDuration("get_work", o.now().Sub(start))

	item := res.Item
	item.Pool = cmd.Pool
	if item.Height > 0 {
		o.Network.SetHeight(item.Height)
	}
	o.Cache.Store(item, o.now())
	o.Registry.SetGBT(cmd.Pool, res.Kind == provider.KindGBT)
	for _, s := range res.Skipped {
		o.logger.Warn("coinbase extra data dropped, no room in scriptsig", "size", len(s))
	}
	if o.Registry.Switching() {
		o.Registry.CompleteSwitch()
	}
	cmd.respond(nil)

	o.applyHints(ctx, info, gen, res)
	if res.Kind != provider.KindBenchmark {
		o.probe(ctx, info, res.Kind)
	}
	return nil
}

// applyHints follows the X-Stratum and long-poll advertisements of a reply
func (o *Orchestrator) applyHints(ctx context.Context, info pool.Info, gen uint64, res *provider.Result) {
	if res.Stratum != "" && o.cfg.WantStratum {
		o.logger.Info("pool advertises stratum, switching", "pool", info.Index, "url", res.Stratum)
		o.Registry.SetURL(info.Index, res.Stratum)
		o.Registry.Switch(info.Index)
		return
	}
	if res.LongPoll != "" && o.cfg.WantLongPoll && o.longpoll != nil && !o.longpoll.Running() {
		endpoint := rpc.ResolveLongPollURL(info.Config.URL, res.LongPoll)
		o.longpoll.Start(ctx, info, gen, endpoint, res.LongPollID)
	}
}

// probe refreshes the network view when nothing pushes it
func (o *Orchestrator) probe(ctx context.Context, info pool.Info, kind provider.Kind) {
	if o.Probe == nil {
		return
	}
	info = o.Registry.Get(info.Index)
	if info.Stratum || info.LongPoll {
		return
	}
	client := o.Selector.Client(info)
	if err := o.Probe.MiningInfo(ctx, client); err != nil {
		o.logger.WithError(err).Debug("getmininginfo failed", "pool", info.Index)
	}
	if kind == provider.KindGetwork {
		if err := o.Probe.TemplateHeight(ctx, client); err != nil {
			o.logger.WithError(err).Debug("template height probe failed", "pool", info.Index)
		}
	}
}

func (o *Orchestrator) submitWork(ctx context.Context, cmd *Command) error {
	rep, err := o.Pipeline.Submit(ctx, &cmd.Item, cmd.Index)
	switch {
	case err == nil:
		o.logger.Debug("share handled", "pool", rep.Pool, "outcome", rep.Outcome.String())
		return nil
	case errors.Is(err, errors.ErrSwitched):
		o.logger.Debug("share from previous pool discarded", "pool", cmd.Pool)
		return nil
	case ctx.Err() != nil:
		return nil
	}

	o.logger.WithError(err).Error("submit failed", "pool", cmd.Pool, "job_id", cmd.Item.JobID)
	info := o.Registry.Get(cmd.Pool)
	if info.Stratum || o.cfg.Benchmark {
		// the stratum runner owns reconnection
		return nil
	}
	if o.Registry.Len() > 1 && o.cfg.Failover && cmd.Pool == o.Registry.Current() {
		o.Registry.SwitchNext()
	}
	return nil
}

// escalate turns a get-work failure into a failover or a fatal exit
func (o *Orchestrator) escalate(ctx context.Context, poolIdx int, err error) error {
	switch {
	case ctx.Err() != nil, errors.Is(err, errors.ErrSwitched):
		return nil
	case errors.Is(err, errors.ErrNoProtocol), errors.IsType(err, errors.ErrorTypeProtocol):
		// template unusable and getwork not allowed
		return &ExitError{Code: ExitNoProtocol, Err: err}
	case errors.IsType(err, errors.ErrorTypeDecode):
		// the worker asks again after its pause
		o.logger.WithError(err).Warn("discarding undecodable work", "pool", poolIdx)
		return nil
	}

	if o.Registry.Len() > 1 && o.cfg.Failover {
		o.logger.WithError(err).Warn("pool unreachable, failover", "pool", poolIdx)
		o.Registry.SwitchNext()
		return nil
	}
	if o.cfg.Benchmark {
		return nil
	}
	return &ExitError{Code: ExitPoolTimeout, Err: err}
}
