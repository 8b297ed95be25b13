package workio

import (
	"context"
	"sync"

	"github.com/bardlex/gominer/pkg/log"
)

// Supervisor runs the orchestrator and the protocol goroutine of the
// current pool, restarting the latter on every switch.
type Supervisor struct {
	deps         Deps
	orchestrator *Orchestrator
	longpoll     *LongPoll
	stratum      *StratumRunner
	benchmark    bool
	logger       *log.Logger

	switches chan struct{}
	errc     chan error
	wg       sync.WaitGroup

	// zmq opens a block notifier; nil disables ZMQ
	zmq func(endpoint string) (*ZMQNotifier, error)
}

// NewSupervisor wires the protocol side together
func NewSupervisor(deps Deps, o *Orchestrator, lp *LongPoll, sr *StratumRunner, benchmark bool, logger *log.Logger) *Supervisor {
	s := &Supervisor{
		deps:         deps,
		orchestrator: o,
		longpoll:     lp,
		stratum:      sr,
		benchmark:    benchmark,
		logger:       logger.WithComponent("supervisor"),
		switches:     make(chan struct{}, 1),
		errc:         make(chan error, 4),
	}
	s.zmq = func(endpoint string) (*ZMQNotifier, error) {
		return NewZMQNotifier(endpoint, deps.Cache, deps.Restarter, logger)
	}
	o.SetLongPoll(lp)

	deps.Registry.OnSwitch(func(from, to int, gen uint64) {
		// previous pool's work and network view are void
		deps.Cache.Clear()
		deps.Network.Reset()
		deps.Restarter.Broadcast()
		select {
		case s.switches <- struct{}{}:
		default:
		}
	})
	return s
}

// Run blocks until ctx ends or a component fails fatally
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.orchestrator.Run(ctx); err != nil {
			s.errc <- err
		}
	}()

	stopPool := s.startPool(ctx)
	for {
		select {
		case <-ctx.Done():
			stopPool()
			return nil
		case err := <-s.errc:
			stopPool()
			s.orchestrator.Abort()
			return err
		case <-s.switches:
			stopPool()
			stopPool = s.startPool(ctx)
		}
	}
}

// startPool launches what the current pool needs and returns its stop
func (s *Supervisor) startPool(ctx context.Context) func() {
	reg := s.deps.Registry
	gen := reg.Generation()
	info := reg.CurrentInfo()
	pctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	switch {
	case s.benchmark:
		reg.CompleteSwitch()
	case info.Stratum && s.stratum != nil:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.stratum.Run(pctx, info.Index, gen); err != nil {
				s.errc <- err
			}
		}()
	case info.Config.ZMQ != "" && s.zmq != nil:
		z, err := s.zmq(info.Config.ZMQ)
		if err == nil {
			err = z.Connect()
		}
		if err != nil {
			s.logger.WithError(err).Warn("ZMQ notifications unavailable", "pool", info.Index)
			if z != nil {
				_ = z.Close()
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer z.Close()
			_ = z.Listen(pctx)
		}()
	}

	return func() {
		cancel()
		if s.longpoll != nil {
			s.longpoll.Stop()
		}
		wg.Wait()
	}
}
