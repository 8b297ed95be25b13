// Package cpu is the reference scanning engine. It hashes on the CPU
// and exists for benchmarking and tests rather than throughput.
package cpu

import (
	"context"
	"encoding/binary"

	"github.com/decred/dcrd/crypto/blake256"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/hashx"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// ctxCheckMask sets how often the scan loop looks at ctx
const ctxCheckMask = 0x3fff

// HashFunc hashes a full header
type HashFunc func([]byte) [32]byte

// Engine scans a nonce range of one work item
type Engine struct {
	desc *algo.Descriptor
	hash HashFunc
}

// Hasher returns the host implementation of d's hash
func Hasher(d *algo.Descriptor) (HashFunc, error) {
	switch d.Name {
	case "sha256d":
		return hashx.DoubleSum256, nil
	case "blake", "decred":
		// 14-round blake-256
		return blake256.Sum256, nil
	}
	return nil, errors.New(errors.ErrorTypeConfig, "engine.cpu",
		"no cpu implementation for "+d.Name)
}

// New returns an engine for d
func New(d *algo.Descriptor) (*Engine, error) {
	h, err := Hasher(d)
	if err != nil {
		return nil, err
	}
	return &Engine{desc: d, hash: h}, nil
}

// Name identifies the engine in logs
func (e *Engine) Name() string { return "cpu/" + e.desc.Name }

// Scan hashes from w's current nonce up to maxNonce. It returns after the
// first nonce meeting the target, at maxNonce, or when ctx ends; w's nonce
// word holds the last nonce tried.
func (e *Engine) Scan(ctx context.Context, w *work.Item, maxNonce uint32) (uint64, error) {
	d := e.desc
	header := w.HeaderBytes(d)
	off := d.NonceWord * 4
	put := binary.BigEndian.PutUint32
	if d.LittleEndian {
		put = binary.LittleEndian.PutUint32
	}

	n := w.Nonce(d)
	var hashes uint64
	for {
		put(header[off:], n)
		h := e.hash(header)
		hashes++

		if MeetsTarget(h, &w.Target) {
			w.SetNonce(d, n)
			w.AddShare(n, assembler.HashDiff(h))
			return hashes, nil
		}
		if n >= maxNonce {
			break
		}
		if hashes&ctxCheckMask == 0 && ctx.Err() != nil {
			break
		}
		n++
	}
	w.SetNonce(d, n)
	return hashes, nil
}

// MeetsTarget compares a hash, read as a little-endian 256-bit number,
// against target whose word 7 is the most significant.
func MeetsTarget(hash [32]byte, target *[8]uint32) bool {
	for i := 7; i >= 0; i-- {
		h := binary.LittleEndian.Uint32(hash[i*4:])
		if h > target[i] {
			return false
		}
		if h < target[i] {
			return true
		}
	}
	return true
}
