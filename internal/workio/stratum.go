package workio

import (
	"context"
	"time"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/provider"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// StratumConfig configures the stratum runner
type StratumConfig struct {
	// Session is the template every connection starts from; URL and
	// credentials come from the pool.
	Session   stratum.Config
	Retries   int
	FailPause time.Duration
	Failover  bool
}

// StratumRunner keeps one session to the current stratum pool alive and
// turns its jobs into cached work.
type StratumRunner struct {
	registry  *pool.Registry
	provider  *provider.Stratum
	pipeline  *submit.Pipeline
	cache     *work.Cache
	network   *work.Network
	restarter *work.Restarter
	desc      *algo.Descriptor
	cfg       StratumConfig
	logger    *log.Logger

	// dial connects a fresh session; tests replace it with a pipe
	dial func(ctx context.Context, s *stratum.Session) error
	now  func() time.Time
}

// NewStratumRunner creates a runner
func NewStratumRunner(deps Deps, desc *algo.Descriptor, cfg StratumConfig, logger *log.Logger) *StratumRunner {
	return &StratumRunner{
		registry:  deps.Registry,
		provider:  deps.Selector.Stratum(),
		pipeline:  deps.Pipeline,
		cache:     deps.Cache,
		network:   deps.Network,
		restarter: deps.Restarter,
		desc:      desc,
		cfg:       cfg,
		logger:    logger.WithComponent("stratum_runner"),
		dial: func(ctx context.Context, s *stratum.Session) error {
			return s.Connect(ctx)
		},
		now: time.Now,
	}
}

// Run serves pool idx until ctx ends or the generation moves past gen.
// It returns an *ExitError when the pool stays unreachable and no
// failover is possible.
func (r *StratumRunner) Run(ctx context.Context, idx int, gen uint64) error {
	failures := 0
	for {
		if ctx.Err() != nil || r.registry.Moved(gen) {
			return nil
		}
		info := r.registry.Get(idx)

		// workers idle until the first job of the new connection
		r.cache.Clear()
		r.restarter.Broadcast()

		cfg := r.cfg.Session
		cfg.URL = info.Config.URL
		cfg.User = info.Config.User
		cfg.Pass = info.Config.Pass
		cfg.Binary = r.desc.BinaryStratum

		l := &jobListener{runner: r, pool: idx, gen: gen}
		sess := stratum.NewSession(cfg, l, r.logger)
		r.provider.Attach(sess)
		r.pipeline.SetStratum(sess)

		err := r.dial(ctx, sess)
		if err == nil {
			err = sess.Handshake(ctx)
		}
		if err != nil {
			r.detach(sess)
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if r.cfg.Retries >= 0 && failures > r.cfg.Retries {
				if r.registry.Len() > 1 && r.cfg.Failover {
					r.logger.WithError(err).Warn("stratum connect timeout, failover", "pool", idx)
					r.registry.SwitchNext()
					return nil
				}
				r.logger.WithError(err).Error("stratum pool unreachable", "pool", idx)
				return &ExitError{Code: ExitPoolTimeout, Err: err}
			}
			if r.registry.Moved(gen) {
				return nil
			}
			r.logger.WithError(err).Error("stratum connect failed, retrying", "pool", idx, "pause", r.cfg.FailPause)
			if !sleepCtx(ctx, r.cfg.FailPause) {
				return nil
			}
			continue
		}

		failures = 0
		if r.registry.Switching() {
			r.registry.CompleteSwitch()
		}
		r.logger.Info("stratum session active", "pool", idx, "url", rpc.Endpoint(cfg.URL))

		err = sess.Run(ctx)
		r.detach(sess)

		var reconnect *stratum.ReconnectError
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.As(err, &reconnect):
			r.logger.Info("pool requested reconnect", "pool", idx, "url", reconnect.URL, "wait", reconnect.Wait)
			r.registry.SetURL(idx, reconnect.URL)
			if !sleepCtx(ctx, reconnect.Wait) {
				return nil
			}
		default:
			r.logger.WithError(err).Warn("stratum connection lost", "pool", idx)
		}
	}
}

func (r *StratumRunner) detach(sess *stratum.Session) {
	r.provider.Attach(nil)
	r.pipeline.SetStratum(nil)
	sess.Close()
}

// adopt builds work from the session's current job into the cache
func (r *StratumRunner) adopt(l *jobListener, job *work.StratumJob, force bool) {
	if r.registry.Moved(l.gen) {
		return
	}
	cached, at := r.cache.Snapshot()
	// a clean notify always restarts the workers, even for a known job id
	if !force && !job.Clean && !at.IsZero() && cached.PoolJobID() == job.ID {
		return
	}
	res, err := r.provider.Fetch(context.Background())
	if err != nil {
		r.logger.WithError(err).Warn("cannot build work from job", "pool", l.pool, "job_id", job.ID)
		return
	}
	item := res.Item
	item.Pool = l.pool
	r.cache.Store(item, r.now())
	if job.Height > 0 {
		r.network.SetHeight(job.Height)
	}

	shares := r.pipeline.ShareLog()
	if job.Clean {
		if job.Height != l.lastHeight {
			l.lastHeight = job.Height
			r.logger.Info("new block", "pool", l.pool, "height", job.Height, "net_diff", r.network.Difficulty())
		}
		if n := shares.PurgeJob(job.ID); n > 0 {
			r.logger.Debug("purged shares of stale jobs", "count", n)
		}
		r.restarter.Broadcast()
	} else {
		r.logger.Debug("pool asks new job", "pool", l.pool, "job_id", job.ID, "height", job.Height)
	}
	shares.PurgeOlder(submit.StaleAge)
}

// jobListener receives the pushes of one session
type jobListener struct {
	runner     *StratumRunner
	pool       int
	gen        uint64
	lastHeight uint32
}

func (l *jobListener) OnJob(job *work.StratumJob) {
	l.runner.adopt(l, job, false)
}

func (l *jobListener) OnDifficulty(diff float64) {
	if l.runner.network.SetStratumDiff(diff) {
		l.runner.logger.Info("stratum difficulty set", "pool", l.pool, "difficulty", diff)
	}
}

func (l *jobListener) OnExtranonce(xnonce1 []byte, size int) {
	l.runner.logger.Info("extranonce changed", "pool", l.pool, "xnonce1_len", len(xnonce1), "xnonce2_size", size)
	if job := l.runner.provider.Job(); job != nil {
		l.runner.adopt(l, job, true)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
