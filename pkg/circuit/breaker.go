// Package circuit provides a circuit breaker used to isolate optional
// telemetry sinks from the mining loop.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/gominer/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected without running
	StateOpen
	// StateHalfOpen - trial calls decide between closed and open
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // consecutive failures before opening
	SuccessRequired int           // half-open successes needed to close
	Timeout         time.Duration // open duration before a half-open trial
}

// DefaultConfig returns the configuration used for sinks
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     3,
		SuccessRequired: 1,
		Timeout:         time.Minute,
	}
}

// StateChangeFunc is notified on every transition
type StateChangeFunc func(name string, from, to State)

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	config   *Config
	onChange StateChangeFunc
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a named circuit breaker
func New(name string, config *Config, onChange StateChangeFunc) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		name:     name,
		config:   config,
		onChange: onChange,
		now:      time.Now,
	}
}

// Name returns the breaker name
func (cb *Breaker) Name() string { return cb.name }

// Execute runs fn unless the circuit is open
func (cb *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		return errors.New(errors.ErrorTypeSink, "circuit_breaker", "circuit breaker is open").
			WithContext("breaker", cb.name).
			WithRetryable(false)
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *Breaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *Breaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.MaxFailures) {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessRequired {
			cb.successes = 0
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held
func (cb *Breaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current state of the circuit breaker
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears counters
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.transition(StateClosed)
}
