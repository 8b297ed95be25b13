package assembler

import (
	"math"
	"math/big"

	"github.com/bardlex/gominer/internal/work"
)

// diff1 is the difficulty-1 target, 0xFFFF << 208.
var diff1 = new(big.Int).Lsh(big.NewInt(0xFFFF), 208)

var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// CompactToDiff converts a canonical nbits value to a difficulty:
// 0xFFFF/mantissa scaled by 256^(29-exponent).
func CompactToDiff(nbits uint32) float64 {
	mantissa := nbits & 0xffffff
	if mantissa == 0 {
		return 0
	}
	shift := int(nbits >> 24)
	d := float64(0xffff) / float64(mantissa)
	return d * math.Pow(256, float64(29-shift))
}

// DiffToTarget returns diff1/diff as little-endian words. A non-positive
// difficulty or one that overflows yields the maximum target.
func DiffToTarget(diff float64) [8]uint32 {
	var out [8]uint32
	if diff <= 0 || math.IsNaN(diff) || math.IsInf(diff, 0) {
		return wordsFromInt(maxTarget)
	}

	q := new(big.Float).SetPrec(256).SetInt(diff1)
	q.Quo(q, new(big.Float).SetPrec(256).SetFloat64(diff))
	t, _ := q.Int(nil)
	if t.Cmp(maxTarget) > 0 {
		t = maxTarget
	}
	if t.Sign() == 0 {
		return out
	}
	return wordsFromInt(t)
}

// TargetToDiff returns diff1/target
func TargetToDiff(target [8]uint32) float64 {
	t := intFromWords(target)
	if t.Sign() == 0 {
		return 0
	}
	q := new(big.Float).SetPrec(256).SetInt(diff1)
	q.Quo(q, new(big.Float).SetPrec(256).SetInt(t))
	f, _ := q.Float64()
	return f
}

// HashDiff returns the share difficulty of a hash given in internal
// (little-endian) byte order.
func HashDiff(hash [32]byte) float64 {
	var rev [32]byte
	for i := range hash {
		rev[31-i] = hash[i]
	}
	h := new(big.Int).SetBytes(rev[:])
	if h.Sign() == 0 {
		return math.Inf(1)
	}
	q := new(big.Float).SetPrec(256).SetInt(diff1)
	q.Quo(q, new(big.Float).SetPrec(256).SetInt(h))
	f, _ := q.Float64()
	return f
}

// HashMeetsTarget compares an internal-order hash against target words
func HashMeetsTarget(hash [32]byte, target [8]uint32) bool {
	var rev [32]byte
	for i := range hash {
		rev[31-i] = hash[i]
	}
	return new(big.Int).SetBytes(rev[:]).Cmp(intFromWords(target)) <= 0
}

// SetTarget writes the target for diff and records the resulting difficulty
func SetTarget(w *work.Item, diff float64) {
	w.Target = DiffToTarget(diff)
	w.TargetDiff = TargetToDiff(w.Target)
}

func wordsFromInt(v *big.Int) [8]uint32 {
	var out [8]uint32
	b := v.FillBytes(make([]byte, 32))
	for i := 0; i < 8; i++ {
		o := 32 - 4*(i+1)
		out[i] = uint32(b[o])<<24 | uint32(b[o+1])<<16 | uint32(b[o+2])<<8 | uint32(b[o+3])
	}
	return out
}

func intFromWords(w [8]uint32) *big.Int {
	b := make([]byte, 32)
	for i := 0; i < 8; i++ {
		o := 32 - 4*(i+1)
		b[o] = byte(w[i] >> 24)
		b[o+1] = byte(w[i] >> 16)
		b[o+2] = byte(w[i] >> 8)
		b[o+3] = byte(w[i])
	}
	return new(big.Int).SetBytes(b)
}
