package assembler

import (
	"encoding/binary"
	"fmt"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// headerTailWords is how many header words a coinbase1-carried header holds
const headerTailWords = 27

// StratumConfig carries the per-run values stratum assembly mixes in
type StratumConfig struct {
	// DiffFactor scales the pool difficulty, 1 when unset.
	DiffFactor float64
	Vote       uint16
	Rand       func() uint32
}

// BuildStratumWork assembles a work item from the session's current job
// and its extranonce1. The job's Xnonce2 is used as is.
func BuildStratumWork(job *work.StratumJob, xnonce1 []byte, d *algo.Descriptor, cfg StratumConfig) (work.Item, error) {
	var w work.Item
	if len(job.PrevHash) != 32 {
		return w, errors.New(errors.ErrorTypeDecode, "stratum", "invalid prevhash length")
	}

	if d.HeaderInCoinbase {
		if err := coinbaseHeader(&w, job, xnonce1, d, cfg); err != nil {
			return w, err
		}
	} else {
		coinbase := make([]byte, 0, len(job.Coinbase1)+len(xnonce1)+len(job.Xnonce2)+len(job.Coinbase2))
		coinbase = append(coinbase, job.Coinbase1...)
		coinbase = append(coinbase, xnonce1...)
		coinbase = append(coinbase, job.Xnonce2...)
		coinbase = append(coinbase, job.Coinbase2...)
		root := FoldBranches(CoinbaseHash(coinbase, d.Merkle), job.MerkleBranches)

		w.Data[0] = binary.LittleEndian.Uint32(job.Version[:])
		for i := 0; i < 8; i++ {
			w.Data[1+i] = binary.LittleEndian.Uint32(job.PrevHash[i*4:])
			if d.LittleEndian {
				w.Data[9+i] = binary.LittleEndian.Uint32(root[i*4:])
			} else {
				w.Data[9+i] = binary.BigEndian.Uint32(root[i*4:])
			}
		}
		w.Data[d.NtimeWord] = binary.LittleEndian.Uint32(job.Ntime[:])
		w.Data[d.NbitsWord] = binary.LittleEndian.Uint32(job.Nbits[:])
		for _, p := range d.Padding {
			w.Data[p.Index] = p.Value
		}
		w.Height = job.Height
	}

	w.JobID = fmt.Sprintf("%07x %s", binary.BigEndian.Uint32(job.Ntime[:])&0xfffffff, job.ID)
	w.Xnonce2 = append([]byte(nil), job.Xnonce2...)
	w.StratumDiff = job.Diff

	factor := cfg.DiffFactor
	if factor <= 0 {
		factor = 1
	}
	SetTarget(&w, job.Diff/(d.DiffScale*factor))
	return w, nil
}

// coinbaseHeader fills a header whose tail words travel in coinbase1 and
// whose extranonce lives in the header itself.
func coinbaseHeader(w *work.Item, job *work.StratumJob, xnonce1 []byte, d *algo.Descriptor, cfg StratumConfig) error {
	if len(job.Coinbase1) < headerTailWords*4 {
		return errors.New(errors.ErrorTypeDecode, "stratum",
			fmt.Sprintf("coinbase1 too short for header: %d bytes", len(job.Coinbase1)))
	}
	w.Data[0] = binary.LittleEndian.Uint32(job.Version[:])
	for i := 0; i < 8; i++ {
		w.Data[1+i] = binary.BigEndian.Uint32(job.PrevHash[i*4:])
	}
	for i := 0; i < headerTailWords; i++ {
		w.Data[9+i] = binary.LittleEndian.Uint32(job.Coinbase1[i*4:])
	}
	if d.Vote {
		w.Data[d.VoteWord] = ApplyVote(w.Data[d.VoteWord], cfg.Vote)
	}

	var x1 [4]byte
	copy(x1[:], xnonce1)
	w.Data[d.NonceWord+1] = binary.LittleEndian.Uint32(x1[:])
	if cfg.Rand != nil {
		w.Data[d.NonceWord+2] = cfg.Rand() << 8
	}
	for _, p := range d.Padding {
		w.Data[p.Index] = p.Value
	}
	if d.HeightWord > 0 {
		w.Height = w.Data[d.HeightWord]
	}
	return nil
}

// CoinbaseHeight reads the BIP34 height push from a coinbase1 prefix:
// version, input count and the null prevout precede the script length
// byte, then a push of up to four little-endian height bytes.
func CoinbaseHeight(coinbase1 []byte) uint32 {
	const pushOffset = 4 + 1 + 36 + 1
	if len(coinbase1) <= pushOffset {
		return 0
	}
	n := int(coinbase1[pushOffset])
	if n < 1 || n > 4 || len(coinbase1) < pushOffset+1+n {
		return 0
	}
	var h uint32
	for i := n - 1; i >= 0; i-- {
		h = h<<8 | uint32(coinbase1[pushOffset+1+i])
	}
	return h
}
