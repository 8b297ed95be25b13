package miner

import (
	"context"
	"sync"

	"github.com/bardlex/gominer/pkg/log"
)

// EngineFactory builds the engine of one worker
type EngineFactory func(worker int) (Engine, error)

// Miner runs cfg.Threads workers
type Miner struct {
	workers []*Worker
	logger  *log.Logger
}

// New creates every worker. It fails when an engine cannot be built.
func New(deps Deps, engines EngineFactory, cfg Config, logger *log.Logger) (*Miner, error) {
	threads := max(cfg.Threads, 1)
	cfg.Threads = threads
	m := &Miner{logger: logger.WithComponent("miner")}
	for i := 0; i < threads; i++ {
		e, err := engines(i)
		if err != nil {
			return nil, err
		}
		m.workers = append(m.workers, NewWorker(i, deps, e, cfg, logger))
	}
	return m, nil
}

// Threads returns the worker count
func (m *Miner) Threads() int { return len(m.workers) }

// Run blocks until ctx ends or a worker fails; the first error stops
// every worker.
func (m *Miner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, w := range m.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(w)
	}
	m.logger.Info("workers started", "threads", len(m.workers))
	wg.Wait()
	return firstErr
}
