package work

import (
	"math"
	"time"
)

const nonceSpace = uint64(1) << 32

// Partition returns worker i's static slice of the nonce space as an
// inclusive range. Starts are i*floor(2^32/n), each end is the nonce
// before the next start, and the last worker's end is 2^32-1.
func Partition(i, n int) (start, end uint32) {
	if n <= 1 {
		return 0, math.MaxUint32
	}
	span := nonceSpace / uint64(n)
	s := uint64(i) * span
	e := s + span - 1
	if i == n-1 || e > math.MaxUint32 {
		e = math.MaxUint32
	}
	return uint32(s), uint32(e)
}

// ScanParams are the inputs of one scan-ceiling computation
type ScanParams struct {
	Start    uint32        // current nonce cursor
	End      uint32        // partition end, inclusive
	Hashrate float64       // last measured H/s, zero when unknown
	Budget   time.Duration // remaining scan time
	MinScan  uint32        // algorithm floor
}

// MaxNonce returns the last nonce to scan this pass and the possibly
// widened partition end.
func MaxNonce(p ScanParams) (maxNonce, end uint32) {
	secs := int64(p.Budget / time.Second)
	if secs < 1 {
		secs = 1
	}
	max64 := secs * int64(p.Hashrate)
	if max64 < int64(p.MinScan) {
		max64 = max(int64(p.MinScan)-1, max64)
	}
	if max64 > math.MaxUint32 {
		max64 = math.MaxUint32
	}

	end = p.End
	// never leave a tiny tail at the top of the space
	if end >= math.MaxUint32-256 {
		end = math.MaxUint32
	}

	if uint64(max64)+uint64(p.Start) >= uint64(end) {
		maxNonce = end
	} else {
		maxNonce = p.Start + uint32(max64)
	}
	if p.Start > maxNonce {
		return math.MaxUint32, math.MaxUint32
	}
	return maxNonce, end
}
