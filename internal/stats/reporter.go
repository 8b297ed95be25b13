package stats

import (
	"context"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// maxParallelSinks bounds concurrent sink writes
const maxParallelSinks = 4

// Snapshot is the state published on every report
type Snapshot struct {
	At         time.Time
	Service    string
	Algorithm  string
	Hashrate   float64
	Workers    []float64
	Current    int
	Generation uint64
	Pools      []pool.Info
	Network    work.NetworkState
}

// CurrentPool returns the info of the current pool
func (s *Snapshot) CurrentPool() pool.Info {
	if s.Current < 0 || s.Current >= len(s.Pools) {
		return pool.Info{Index: s.Current}
	}
	return s.Pools[s.Current]
}

// Sink receives snapshots. Implementations must honour ctx.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap *Snapshot) error
}

type guardedSink struct {
	sink    Sink
	breaker *circuit.Breaker
}

// Reporter periodically fans a snapshot out to every sink. A failing
// sink is isolated by its breaker and never blocks the others.
type Reporter struct {
	meter    *Meter
	registry *pool.Registry
	network  *work.Network
	algo     string
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu    sync.Mutex
	sinks []guardedSink
}

// NewReporter creates a reporter publishing every interval
func NewReporter(meter *Meter, registry *pool.Registry, network *work.Network, algo string,
	interval time.Duration, logger *log.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		meter:    meter,
		registry: registry,
		network:  network,
		algo:     algo,
		interval: interval,
		logger:   logger.WithComponent("stats"),
		now:      time.Now,
	}
}

// AddSink registers s behind its own circuit breaker
func (r *Reporter) AddSink(s Sink) {
	b := circuit.New(s.Name(), circuit.DefaultConfig(), func(name string, from, to circuit.State) {
		r.logger.Warn("sink circuit changed", "sink", name, "from", from.String(), "to", to.String())
	})
	r.mu.Lock()
	r.sinks = append(r.sinks, guardedSink{sink: s, breaker: b})
	r.mu.Unlock()
}

// Sinks returns the number of registered sinks
func (r *Reporter) Sinks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Snapshot captures the current state
func (r *Reporter) Snapshot() *Snapshot {
	return &Snapshot{
		At:         r.now(),
		Service:    r.logger.Service(),
		Algorithm:  r.algo,
		Hashrate:   r.meter.Total(),
		Workers:    r.meter.Rates(),
		Current:    r.registry.Current(),
		Generation: r.registry.Generation(),
		Pools:      r.registry.All(),
		Network:    r.network.Snapshot(),
	}
}

// Publish sends one snapshot to every sink and returns how many failed
func (r *Reporter) Publish(ctx context.Context) int {
	r.mu.Lock()
	sinks := append([]guardedSink(nil), r.sinks...)
	r.mu.Unlock()
	if len(sinks) == 0 {
		return 0
	}

	snap := r.Snapshot()
	var (
		mu     sync.Mutex
		failed int
	)
	swg := sizedwaitgroup.New(maxParallelSinks)
	for _, g := range sinks {
		swg.Add()
		go func(g guardedSink) {
			defer swg.Done()
			err := g.breaker.Execute(ctx, func(ctx context.Context) error {
				return retry.Do(ctx, retry.SinkConfig(), func() error {
					if err := g.sink.Publish(ctx, snap); err != nil {
						return errors.Wrap(err, errors.ErrorTypeSink, "stats.publish", "sink write failed").
							WithContext("sink", g.sink.Name())
					}
					return nil
				})
			})
			if err != nil {
				r.logger.WithError(err).Warn("stats sink failed", "sink", g.sink.Name())
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(g)
	}
	swg.Wait()
	return failed
}

// Run publishes every interval until ctx ends
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Publish(ctx)
			r.logger.LogHashrate(-1, r.meter.Total())
		}
	}
}
