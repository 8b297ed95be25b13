package work

import (
	"context"
	"sync"
)

// Restarter broadcasts "drop the current scan" to every worker
type Restarter struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewRestarter creates a broadcaster
func NewRestarter() *Restarter {
	return &Restarter{ch: make(chan struct{})}
}

// Signal returns a channel closed by the next Broadcast
func (r *Restarter) Signal() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch
}

// Broadcast wakes every holder of the current signal
func (r *Restarter) Broadcast() {
	r.mu.Lock()
	close(r.ch)
	r.ch = make(chan struct{})
	r.mu.Unlock()
}

// ScanContext derives a context cancelled by the next Broadcast
func (r *Restarter) ScanContext(parent context.Context) (context.Context, context.CancelFunc) {
	sig := r.Signal()
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
