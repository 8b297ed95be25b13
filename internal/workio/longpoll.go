package workio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/provider"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// LongPoll blocks on the pool's long-poll URL and replaces the cache
// each time the pool answers with new work. One poll runs at a time; it
// ends on a pool switch.
type LongPoll struct {
	registry  *pool.Registry
	selector  *provider.Selector
	cache     *work.Cache
	network   *work.Network
	restarter *work.Restarter
	failPause time.Duration
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewLongPoll creates an idle notifier
func NewLongPoll(deps Deps, failPause time.Duration, logger *log.Logger) *LongPoll {
	return &LongPoll{
		registry:  deps.Registry,
		selector:  deps.Selector,
		cache:     deps.Cache,
		network:   deps.Network,
		restarter: deps.Restarter,
		failPause: failPause,
		logger:    logger.WithComponent("longpoll"),
		now:       time.Now,
	}
}

// Running reports whether a poll is active
func (l *LongPoll) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start polls endpoint for pool p until ctx ends, Stop is called or the
// switch generation moves past gen. It does nothing if a poll runs.
func (l *LongPoll) Start(ctx context.Context, p pool.Info, gen uint64, endpoint, longPollID string) {
	poller := l.selector.LongPoller(p)
	if poller == nil {
		return
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.running = true
	l.done = done
	l.mu.Unlock()

	l.registry.SetLongPoll(p.Index, true)
	l.logger.Info("long-polling", "pool", p.Index, "url", rpc.Endpoint(endpoint))
	go l.run(ctx, poller, p.Index, gen, endpoint, longPollID, done)
}

// Stop ends the active poll and waits for it
func (l *LongPoll) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *LongPoll) run(ctx context.Context, poller provider.LongPoller, idx int, gen uint64,
	endpoint, lpid string, done chan struct{}) {
	defer func() {
		l.registry.SetLongPoll(idx, false)
		l.mu.Lock()
		if l.cancel != nil {
			l.cancel()
		}
		l.running = false
		l.cancel = nil
		l.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil || l.registry.Moved(gen) {
			return
		}
		res, err := poller.LongPoll(ctx, endpoint, lpid)
		if ctx.Err() != nil || l.registry.Moved(gen) {
			return
		}
		if err != nil {
			l.cache.Invalidate()
			if isTimeout(err) {
				continue
			}
			l.logger.WithError(err).Warn("long poll failed", "pool", idx, "retry_in", l.failPause)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.failPause):
			}
			continue
		}

		item := res.Item
		item.Pool = idx
		if item.Height > 0 {
			l.network.SetHeight(item.Height)
		}
		l.cache.Store(item, l.now())
		if res.LongPollID != "" {
			lpid = res.LongPollID
		}
		if item.Height > 0 {
			l.logger.Info("new block", "pool", idx, "height", item.Height, "net_diff", l.network.Difficulty())
		} else {
			l.logger.Info("new block detected", "pool", idx, "net_diff", l.network.Difficulty())
		}
		l.restarter.Broadcast()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
