// Package stats measures worker hashrates and periodically publishes a
// snapshot of the miner to the configured sinks.
package stats

import (
	"sync"
	"time"
)

// sample is one finished scan
type sample struct {
	hashes  uint64
	elapsed time.Duration
}

// Meter averages each worker's hashrate over its last samples
type Meter struct {
	mu      sync.RWMutex
	window  int
	samples [][]sample
	next    []int
	rates   []float64
}

// NewMeter creates a meter for workers threads averaging window samples
func NewMeter(workers, window int) *Meter {
	if window < 1 {
		window = 1
	}
	m := &Meter{
		window:  window,
		samples: make([][]sample, workers),
		next:    make([]int, workers),
		rates:   make([]float64, workers),
	}
	return m
}

// Record adds a scan of hashes that took elapsed. Empty scans are ignored.
func (m *Meter) Record(worker int, hashes uint64, elapsed time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if worker < 0 || worker >= len(m.samples) {
		return 0
	}
	if hashes == 0 || elapsed <= 0 {
		return m.rates[worker]
	}

	s := sample{hashes: hashes, elapsed: elapsed}
	if len(m.samples[worker]) < m.window {
		m.samples[worker] = append(m.samples[worker], s)
	} else {
		m.samples[worker][m.next[worker]] = s
	}
	m.next[worker] = (m.next[worker] + 1) % m.window

	var total uint64
	var span time.Duration
	for _, s := range m.samples[worker] {
		total += s.hashes
		span += s.elapsed
	}
	m.rates[worker] = float64(total) / span.Seconds()
	return m.rates[worker]
}

// Rate returns worker's averaged H/s, zero before its first scan
func (m *Meter) Rate(worker int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if worker < 0 || worker >= len(m.rates) {
		return 0
	}
	return m.rates[worker]
}

// Rates returns a copy of every worker's rate
func (m *Meter) Rates() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.rates...)
}

// Total returns the summed rate of all workers
func (m *Meter) Total() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, r := range m.rates {
		sum += r
	}
	return sum
}

// Reset forgets every sample, used when the algorithm load changes
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.samples {
		m.samples[i] = m.samples[i][:0]
		m.next[i] = 0
		m.rates[i] = 0
	}
}
