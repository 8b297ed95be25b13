package assembler

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/hashx"
)

// MerkleRoot folds leaves pairwise with sha256d, duplicating the last
// element of odd levels. An empty list yields the zero hash.
func MerkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.Hash{}
	}
	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	var buf [64]byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := range next {
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = hashx.DoubleSum256(buf[:])
		}
		level = next
	}
	return level[0]
}

// MerkleBranch returns the sibling hashes a stratum client needs to fold
// a coinbase hash into the root of leaves[0] plus the rest.
func MerkleBranch(txHashes []chainhash.Hash) []chainhash.Hash {
	if len(txHashes) == 0 {
		return nil
	}
	level := make([]chainhash.Hash, 0, len(txHashes)+1)
	level = append(level, chainhash.Hash{})
	level = append(level, txHashes...)

	var branch []chainhash.Hash
	var buf [64]byte
	for len(level) > 1 {
		branch = append(branch, level[1])
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		next = append(next, chainhash.Hash{})
		for i := 2; i < len(level); i += 2 {
			copy(buf[:32], level[i][:])
			copy(buf[32:], level[i+1][:])
			next = append(next, hashx.DoubleSum256(buf[:]))
		}
		level = next
	}
	return branch
}

// FoldBranches applies stratum merkle branches to a coinbase hash
func FoldBranches(root [32]byte, branches [][]byte) [32]byte {
	var buf [64]byte
	for _, b := range branches {
		copy(buf[:32], root[:])
		copy(buf[32:], b)
		root = hashx.DoubleSum256(buf[:])
	}
	return root
}

// CoinbaseHash hashes a stratum coinbase the way the algorithm expects
func CoinbaseHash(coinbase []byte, mode algo.MerkleHash) [32]byte {
	if mode == algo.MerkleSHA256 {
		return hashx.Sum256(coinbase)
	}
	return hashx.DoubleSum256(coinbase)
}
