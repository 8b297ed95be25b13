package provider

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Options configures every provider the Selector creates
type Options struct {
	RPC          rpc.Options
	Getwork      assembler.GetworkConfig
	Template     assembler.TemplateConfig
	Stratum      assembler.StratumConfig
	AllowGetwork bool
	Benchmark    bool
}

// Selector picks the provider for a pool. The GBT downgrade it applies
// goes through the shared pool.Flags and is permanent for every pool.
type Selector struct {
	desc   *algo.Descriptor
	flags  *pool.Flags
	opts   Options
	logger *log.Logger

	stratum   *Stratum
	benchmark *Benchmark

	mu      sync.Mutex
	clients map[int]*rpc.Client
}

// NewSelector creates a selector
func NewSelector(desc *algo.Descriptor, flags *pool.Flags, opts Options, logger *log.Logger) *Selector {
	opts.Template.GetworkFallback = opts.AllowGetwork
	return &Selector{
		desc:      desc,
		flags:     flags,
		opts:      opts,
		logger:    logger.WithComponent("provider"),
		stratum:   NewStratum(desc, opts.Stratum),
		benchmark: NewBenchmark(desc),
		clients:   make(map[int]*rpc.Client),
	}
}

// Stratum returns the shared stratum provider
func (s *Selector) Stratum() *Stratum { return s.stratum }

// Client returns the HTTP client of pool p, replacing it when the URL
// changed since it was created.
func (s *Selector) Client(p pool.Info) *rpc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[p.Index]
	if !ok || c.URL() != p.Config.URL {
		c = rpc.NewClient(p.Config.URL, p.Config.User, p.Config.Pass, s.opts.RPC)
		s.clients[p.Index] = c
	}
	return c
}

// Select returns the provider in force for p
func (s *Selector) Select(p pool.Info) (Provider, error) {
	switch {
	case s.opts.Benchmark:
		return s.benchmark, nil
	case p.Stratum:
		return s.stratum, nil
	case s.flags.GBT() && s.desc.SupportsGBT():
		return NewGBT(s.Client(p), s.desc, s.opts.Template), nil
	case s.opts.AllowGetwork:
		return s.getwork(p), nil
	default:
		return nil, errors.Wrap(errors.ErrNoProtocol, errors.ErrorTypeConfig, "provider.select",
			"getwork disabled and getblocktemplate unavailable")
	}
}

func (s *Selector) getwork(p pool.Info) *Getwork {
	return NewGetwork(s.Client(p), s.desc, s.opts.Getwork)
}

// Fetch gets new work for p. A GBT fetch asking for the getwork fallback
// turns GBT off for the rest of the run and retries once with getwork.
func (s *Selector) Fetch(ctx context.Context, p pool.Info) (*Result, error) {
	prov, err := s.Select(p)
	if err != nil {
		return nil, err
	}
	res, err := prov.Fetch(ctx)
	if err == nil || prov.Kind() != KindGBT || !stderrors.Is(err, assembler.ErrUseGetwork) {
		return res, err
	}

	s.flags.DisableGBT()
	s.logger.WithError(err).Warn("getblocktemplate unusable, falling back to getwork", "pool", p.Index)
	return s.getwork(p).Fetch(ctx)
}

// LongPoller returns the long-poll capable provider for p, or nil when
// p is driven by stratum or benchmark.
func (s *Selector) LongPoller(p pool.Info) LongPoller {
	if s.opts.Benchmark || p.Stratum {
		return nil
	}
	if s.flags.GBT() && s.desc.SupportsGBT() {
		return NewGBT(s.Client(p), s.desc, s.opts.Template)
	}
	if s.opts.AllowGetwork {
		return s.getwork(p)
	}
	return nil
}
