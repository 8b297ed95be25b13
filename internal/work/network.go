package work

import "sync"

// NetworkState is the latest view of the chain: network difficulty and
// hashrate from mining info, the block count, and the stratum difficulty.
type NetworkState struct {
	Difficulty  float64
	Hashrate    float64
	Blocks      uint32
	Height      uint32
	StratumDiff float64
}

// Network guards a NetworkState
type Network struct {
	mu    sync.RWMutex
	state NetworkState
}

// NewNetwork creates an empty network view
func NewNetwork() *Network {
	return &Network{}
}

// Snapshot returns the current state
func (n *Network) Snapshot() NetworkState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Difficulty returns the network difficulty
func (n *Network) Difficulty() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Difficulty
}

// Hashrate returns the network hashrate in H/s
func (n *Network) Hashrate() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Hashrate
}

// SetDifficulty records a network difficulty
func (n *Network) SetDifficulty(d float64) {
	n.mu.Lock()
	n.state.Difficulty = d
	n.mu.Unlock()
}

// SetMiningInfo records the values returned by getmininginfo
func (n *Network) SetMiningInfo(diff, hashrate float64, blocks uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if diff > 0 {
		n.state.Difficulty = diff
	}
	if hashrate > 0 {
		n.state.Hashrate = hashrate
	}
	if blocks > 0 {
		n.state.Blocks = blocks
	}
}

// SetHeight records the height of the current template or job
func (n *Network) SetHeight(h uint32) {
	n.mu.Lock()
	n.state.Height = h
	n.mu.Unlock()
}

// SetStratumDiff records the pool-assigned share difficulty and reports
// whether it changed.
func (n *Network) SetStratumDiff(d float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	changed := n.state.StratumDiff != d
	n.state.StratumDiff = d
	return changed
}

// Reset clears everything, used when the pool changes
func (n *Network) Reset() {
	n.mu.Lock()
	n.state = NetworkState{}
	n.mu.Unlock()
}
