// Package provider fetches work from pools. Each protocol is one Provider
// implementation; the Selector picks the implementation for the current
// pool at runtime and applies the permanent GBT to getwork downgrade.
package provider

import (
	"context"

	"github.com/bardlex/gominer/internal/work"
)

// Kind names a work acquisition protocol
type Kind int

const (
	KindGetwork Kind = iota
	KindGBT
	KindStratum
	KindBenchmark
)

func (k Kind) String() string {
	switch k {
	case KindGBT:
		return "gbt"
	case KindStratum:
		return "stratum"
	case KindBenchmark:
		return "benchmark"
	default:
		return "getwork"
	}
}

// Result is one fetched work item plus the pool hints that came with it
type Result struct {
	Kind Kind
	Item work.Item

	// LongPoll is the long-poll path advertised by the pool, absolute or
	// relative to the pool URL. LongPollID is the GBT long-poll id.
	LongPoll   string
	LongPollID string

	// Stratum is an X-Stratum endpoint advertised by an HTTP pool.
	Stratum string

	// Skipped holds coinbase extra data that did not fit.
	Skipped [][]byte
}

// Provider fetches one new work item for its pool
type Provider interface {
	Kind() Kind
	Fetch(ctx context.Context) (*Result, error)
}

// LongPoller blocks on the pool until it has new work
type LongPoller interface {
	LongPoll(ctx context.Context, endpoint, longPollID string) (*Result, error)
}
