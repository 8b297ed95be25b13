package assembler

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// maxDataBytes bounds a getwork data field
const maxDataBytes = work.DataWords * 4

// GetworkResult is the result object of a getwork call
type GetworkResult struct {
	Data   string `json:"data"`
	Target string `json:"target"`
}

// GetworkConfig carries the per-run values getwork decoding mixes in
type GetworkConfig struct {
	// Vote is the operator vote for algorithms with vote bits.
	Vote uint16
	// Rand feeds the random extra-nonce words of full-range algorithms.
	Rand func() uint32
}

// DecodeGetwork turns a getwork result into a work item
func DecodeGetwork(res *GetworkResult, d *algo.Descriptor, cfg GetworkConfig) (work.Item, error) {
	var w work.Item

	raw, err := hex.DecodeString(res.Data)
	if err != nil {
		return w, errors.Wrap(err, errors.ErrorTypeDecode, "getwork", "invalid data hex")
	}
	if len(raw) != d.DataSize {
		if len(raw) == 0 || len(raw) > maxDataBytes {
			return w, errors.New(errors.ErrorTypeDecode, "getwork",
				fmt.Sprintf("data size %d out of range", len(raw)))
		}
	}
	padded := make([]byte, maxDataBytes)
	copy(padded, raw)
	for i := 0; i < d.DataWords; i++ {
		w.Data[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}

	tb, err := hex.DecodeString(res.Target)
	if err != nil || len(tb) != 32 {
		return w, errors.New(errors.ErrorTypeDecode, "getwork", "invalid target")
	}
	for i := range w.Target {
		w.Target[i] = binary.LittleEndian.Uint32(tb[i*4:])
	}
	w.TargetDiff = TargetToDiff(w.Target)
	w.JobID = ntimeJobID(w.Data[d.NtimeWord])

	if d.Vote {
		w.Data[d.VoteWord] = ApplyVote(w.Data[d.VoteWord], cfg.Vote)
	}
	if d.FullNonceRange && cfg.Rand != nil {
		w.Data[d.NonceWord+1] = cfg.Rand() << 2
	}
	if d.HeightWord > 0 {
		w.Height = w.Data[d.HeightWord]
	}
	return w, nil
}

// ApplyVote replaces the vote bits of word, keeping the low block-valid bit
func ApplyVote(word uint32, vote uint16) uint32 {
	low := (uint32(vote) << 1) | (word & 1)
	return (word &^ 0xffff) | (low & 0xffff)
}

// ntimeJobID is the hex of the little-endian bytes of the ntime word
func ntimeJobID(ntime uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], ntime)
	return hex.EncodeToString(b[:])
}
