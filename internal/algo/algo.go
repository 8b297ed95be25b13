// Package algo describes the per-algorithm layout parameters that the
// assembler, the scheduler and the submission pipeline consult. It is the
// only place in the tree that switches on the algorithm name.
package algo

import (
	"fmt"
	"sort"
	"strings"
)

// MerkleHash selects how the coinbase hash entering the merkle tree is computed
type MerkleHash int

const (
	// MerkleSHA256d hashes the coinbase with double sha256
	MerkleSHA256d MerkleHash = iota
	// MerkleSHA256 hashes the coinbase with a single sha256
	MerkleSHA256
	// MerkleNone marks algorithms whose pool ships a ready header
	MerkleNone
)

// Word is a fixed header word value written when a header is assembled
type Word struct {
	Index int
	Value uint32
}

// Descriptor holds the layout of one algorithm's work data.
// Word indexes refer to the 48-word data array of a work item.
type Descriptor struct {
	Name string

	// DataSize is the getwork data length in bytes, DataWords the
	// number of words converted from it.
	DataSize  int
	DataWords int

	// HeaderLen is the number of bytes hashed per nonce.
	HeaderLen int

	// Workers compare CompareLen-8 bytes starting at word CompareOffset
	// to detect a new job. The range never covers ntime or the nonce.
	CompareLen    int
	CompareOffset int

	NonceWord int
	NtimeWord int
	NbitsWord int

	// LittleEndian headers store nbits unswapped and hash words LE.
	LittleEndian bool

	// DiffScale divides the stratum difficulty before the target is set.
	DiffScale float64

	Merkle MerkleHash

	// Padding words written after the stratum/GBT header fields.
	Padding []Word

	// MinScan floors the per-iteration scan range.
	MinScan uint32

	// ForceDupCheck enables the share log regardless of configuration.
	ForceDupCheck bool

	// FullNonceRange algorithms scan all 2^32 nonces per pass and
	// diversify workers through the words after the nonce.
	FullNonceRange bool

	// Vote adds vote bits to stratum submissions.
	Vote     bool
	VoteWord int

	// HeightWord, when non-zero, holds the block height inside the header.
	HeightWord int

	// HeaderInCoinbase jobs carry the header tail in coinbase1 instead of
	// coinbase parts to hash.
	HeaderInCoinbase bool

	// SubmitBigEndian encodes the submitted ntime and nonce big-endian.
	SubmitBigEndian bool

	// BinaryStratum selects the length-framed stratum codec.
	BinaryStratum bool
}

// CompareBytes returns the byte count compared between work items
func (d *Descriptor) CompareBytes() int {
	return d.CompareLen - 8
}

// SupportsGBT reports whether a coinbase and merkle root can be built locally
func (d *Descriptor) SupportsGBT() bool {
	return d.Merkle != MerkleNone
}

var sha256Padding = []Word{{20, 0x80000000}, {31, 0x00000280}}

func base(name string) *Descriptor {
	return &Descriptor{
		Name:       name,
		DataSize:   128,
		DataWords:  32,
		HeaderLen:  80,
		CompareLen: 76,
		NonceWord:  19,
		NtimeWord:  17,
		NbitsWord:  18,
		DiffScale:  1,
		Merkle:     MerkleSHA256d,
		Padding:    sha256Padding,
		MinScan:    0x100000,
	}
}

var registry = map[string]*Descriptor{}

func register(d *Descriptor) {
	registry[d.Name] = d
}

func init() {
	sha := base("sha256d")
	sha.MinScan = 0x40000000
	register(sha)

	blake := base("blake")
	blake.MinScan = 0x40000000
	blake.ForceDupCheck = true
	register(blake)

	blakecoin := base("blakecoin")
	blakecoin.Merkle = MerkleSHA256
	blakecoin.MinScan = 0x80000000
	blakecoin.ForceDupCheck = true
	register(blakecoin)

	keccak := base("keccak")
	keccak.Merkle = MerkleSHA256
	keccak.DiffScale = 128
	keccak.MinScan = 0x1000000
	register(keccak)

	groestl := base("groestl")
	groestl.Merkle = MerkleSHA256
	groestl.DiffScale = 256
	register(groestl)

	x11 := base("x11")
	x11.MinScan = 0x400000
	register(x11)

	lyra := base("lyra2v2")
	lyra.DiffScale = 256
	lyra.MinScan = 0x400000
	register(lyra)

	scrypt := base("scrypt")
	scrypt.DiffScale = 65536
	scrypt.MinScan = 0x80000
	register(scrypt)

	neo := base("neoscrypt")
	neo.DataSize = 80
	neo.DataWords = 20
	neo.DiffScale = 65536
	neo.MinScan = 0x80000
	register(neo)

	// zr5 carries a proof-of-knowledge marker in the version word
	zr5 := base("zr5")
	zr5.DataSize = 80
	zr5.DataWords = 20
	zr5.CompareOffset = 1
	zr5.CompareLen = 72
	zr5.ForceDupCheck = true
	zr5.SubmitBigEndian = true
	register(zr5)

	register(&Descriptor{
		Name:             "decred",
		DataSize:         192,
		DataWords:        45,
		HeaderLen:        180,
		CompareLen:       140,
		NonceWord:        35,
		NtimeWord:        34,
		NbitsWord:        29,
		LittleEndian:     true,
		DiffScale:        1,
		Merkle:           MerkleNone,
		MinScan:          0x40000000,
		FullNonceRange:   true,
		Vote:             true,
		VoteWord:         25,
		HeightWord:       32,
		HeaderInCoinbase: true,
		SubmitBigEndian:  true,
	})

	mtp := base("mtp")
	mtp.HeaderLen = 84
	mtp.CompareLen = 84
	mtp.LittleEndian = true
	mtp.Padding = []Word{{20, 0x00100000}}
	mtp.BinaryStratum = true
	register(mtp)
}

// Lookup returns the descriptor for name
func Lookup(name string) (*Descriptor, error) {
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered algorithms in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
