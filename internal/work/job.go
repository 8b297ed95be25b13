package work

import "time"

// StratumJob is the latest mining.notify payload of a stratum session.
// Coinbase parts and branches are raw bytes; Version, Nbits and Ntime are
// the 4 bytes decoded from their hex fields in wire order.
type StratumJob struct {
	ID             string
	PrevHash       []byte
	Coinbase1      []byte
	Coinbase2      []byte
	MerkleBranches [][]byte
	Version        [4]byte
	Nbits          [4]byte
	Ntime          [4]byte
	Clean          bool

	// Diff is the share difficulty in force when the job arrived.
	Diff   float64
	Height uint32

	// Xnonce2 is the running extranonce2 counter, little-endian.
	Xnonce2 []byte

	Received time.Time
}

// Clone returns a deep copy
func (j *StratumJob) Clone() *StratumJob {
	c := *j
	c.PrevHash = append([]byte(nil), j.PrevHash...)
	c.Coinbase1 = append([]byte(nil), j.Coinbase1...)
	c.Coinbase2 = append([]byte(nil), j.Coinbase2...)
	c.Xnonce2 = append([]byte(nil), j.Xnonce2...)
	c.MerkleBranches = make([][]byte, len(j.MerkleBranches))
	for i, b := range j.MerkleBranches {
		c.MerkleBranches[i] = append([]byte(nil), b...)
	}
	return &c
}

// IncrementXnonce2 adds one to the little-endian extranonce2 counter
func (j *StratumJob) IncrementXnonce2() {
	for i := range j.Xnonce2 {
		j.Xnonce2[i]++
		if j.Xnonce2[i] != 0 {
			return
		}
	}
}
