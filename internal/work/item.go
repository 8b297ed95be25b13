// Package work holds the work item model shared by every component: the
// item itself, the global cache workers copy from, the nonce partition and
// the network state the throttle reads.
package work

import (
	"encoding/binary"
	"math/bits"

	"github.com/bardlex/gominer/internal/algo"
)

// DataWords is the capacity of the header word array (192 bytes)
const DataWords = 48

// Item is one header-construction task.
//
// Data holds host-order words. The hashed header is the big-endian
// encoding of those words, or the little-endian one for algorithms whose
// descriptor says so. Target word 7 is the most significant.
type Item struct {
	Data       [DataWords]uint32
	Target     [8]uint32
	TargetDiff float64

	// JobID is "<8-char ntime prefix><pool job id>".
	JobID  string
	Height uint32
	Pool   int

	// GBT submission material.
	TxHex  string
	WorkID string

	// Stratum submission material.
	Xnonce2     []byte
	StratumDiff float64

	// Aux is a proof payload an engine attaches with its solutions, for
	// algorithms whose pools want more than the nonce (mtp proof blobs).
	// It is submitted after the vote bits; the cpu engine leaves it empty.
	Aux []byte

	ScannedFrom uint32
	ScannedTo   uint32

	// Up to two winning nonces reported by the engine.
	ValidNonces int
	Nonces      [2]uint32
	ShareDiff   [2]float64
}

// Clone returns a deep copy
func (w *Item) Clone() Item {
	c := *w
	if w.Xnonce2 != nil {
		c.Xnonce2 = append([]byte(nil), w.Xnonce2...)
	}
	if w.Aux != nil {
		c.Aux = append([]byte(nil), w.Aux...)
	}
	return c
}

// Empty reports whether the item carries no header yet
func (w *Item) Empty() bool {
	return w.Data[0] == 0 && w.Data[1] == 0
}

// PoolJobID returns the pool part of the job id, after the ntime prefix
func (w *Item) PoolJobID() string {
	if len(w.JobID) <= 8 {
		return ""
	}
	return w.JobID[8:]
}

// SameJob reports whether both items belong to the same pool job
func (w *Item) SameJob(o *Item) bool {
	return w.PoolJobID() == o.PoolJobID()
}

// SameHeader compares the header bytes workers watch for job changes
func SameHeader(a, b *Item, d *algo.Descriptor) bool {
	n := d.CompareBytes() / 4
	off := d.CompareOffset
	for i := off; i < off+n; i++ {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// Nonce returns the nonce word
func (w *Item) Nonce(d *algo.Descriptor) uint32 {
	return w.Data[d.NonceWord]
}

// SetNonce writes the nonce word
func (w *Item) SetNonce(d *algo.Descriptor, n uint32) {
	w.Data[d.NonceWord] = n
}

// HeaderBytes encodes the hashed part of the header
func (w *Item) HeaderBytes(d *algo.Descriptor) []byte {
	return w.Bytes(d.HeaderLen, d.LittleEndian)
}

// Bytes encodes the first n bytes of Data with the given word order
func (w *Item) Bytes(n int, littleEndian bool) []byte {
	out := make([]byte, (n+3)/4*4)
	for i := 0; i < len(out)/4; i++ {
		if littleEndian {
			binary.LittleEndian.PutUint32(out[i*4:], w.Data[i])
		} else {
			binary.BigEndian.PutUint32(out[i*4:], w.Data[i])
		}
	}
	return out[:n]
}

// Nbits returns the compact difficulty in canonical order
func (w *Item) Nbits(d *algo.Descriptor) uint32 {
	v := w.Data[d.NbitsWord]
	if d.LittleEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

// AddShare records a found nonce. Extra nonces beyond two are dropped.
func (w *Item) AddShare(nonce uint32, diff float64) {
	if w.ValidNonces >= len(w.Nonces) {
		return
	}
	w.Nonces[w.ValidNonces] = nonce
	w.ShareDiff[w.ValidNonces] = diff
	w.ValidNonces++
}
