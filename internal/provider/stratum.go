package provider

import (
	"context"
	"sync"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// JobSource is the live stratum session the provider reads jobs from
type JobSource interface {
	Job() *work.StratumJob
	NextXnonce2() *work.StratumJob
	Extranonce() ([]byte, int)
}

// Stratum reshapes the session's latest job into work. It makes no
// request of its own.
type Stratum struct {
	desc *algo.Descriptor
	cfg  assembler.StratumConfig

	mu  sync.Mutex
	src JobSource
}

// NewStratum creates a stratum provider with no session attached
func NewStratum(desc *algo.Descriptor, cfg assembler.StratumConfig) *Stratum {
	return &Stratum{desc: desc, cfg: cfg}
}

// Attach binds the session jobs are read from; nil detaches
func (s *Stratum) Attach(src JobSource) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

func (s *Stratum) source() JobSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Job returns the session's current job, or nil
func (s *Stratum) Job() *work.StratumJob {
	src := s.source()
	if src == nil {
		return nil
	}
	return src.Job()
}

// Kind implements Provider
func (s *Stratum) Kind() Kind { return KindStratum }

// Fetch builds work from the current job and extranonce2
func (s *Stratum) Fetch(_ context.Context) (*Result, error) {
	src := s.source()
	if src == nil {
		return nil, errNoJob()
	}
	return s.build(src, src.Job())
}

// Regenerate increments the job's extranonce2 and builds fresh work,
// used when a worker exhausts its nonce range on the same job.
func (s *Stratum) Regenerate(_ context.Context) (*Result, error) {
	src := s.source()
	if src == nil {
		return nil, errNoJob()
	}
	return s.build(src, src.NextXnonce2())
}

func (s *Stratum) build(src JobSource, job *work.StratumJob) (*Result, error) {
	if job == nil {
		return nil, errNoJob()
	}
	xnonce1, _ := src.Extranonce()
	item, err := assembler.BuildStratumWork(job, xnonce1, s.desc, s.cfg)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: KindStratum, Item: item}, nil
}

func errNoJob() error {
	return errors.New(errors.ErrorTypeTransport, "stratum", "no job received yet")
}
