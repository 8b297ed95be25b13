package provider

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/work"
)

// Benchmark produces a synthetic header with a zero target, so no share
// is ever found and the engine runs flat out.
type Benchmark struct {
	desc *algo.Descriptor
	now  func() time.Time
}

// NewBenchmark creates the offline provider
func NewBenchmark(desc *algo.Descriptor) *Benchmark {
	return &Benchmark{desc: desc, now: time.Now}
}

// Kind implements Provider
func (b *Benchmark) Kind() Kind { return KindBenchmark }

// Fetch implements Provider
func (b *Benchmark) Fetch(_ context.Context) (*Result, error) {
	var w work.Item
	for i := 0; i < b.desc.NonceWord; i++ {
		w.Data[i] = 0x55555555
	}
	ntime := uint32(b.now().Unix())
	w.Data[b.desc.NtimeWord] = bits.ReverseBytes32(ntime)
	for _, p := range b.desc.Padding {
		w.Data[p.Index] = p.Value
	}
	w.JobID = fmt.Sprintf("%08x", ntime) + "benchmark"
	return &Result{Kind: KindBenchmark, Item: w}, nil
}
