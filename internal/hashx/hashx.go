// Package hashx provides the sha256 primitives used for coinbase and
// merkle hashing. Builds use sha256-simd unless the noavx tag selects
// crypto/sha256.
package hashx

type sumFunc func([]byte) [32]byte

var sum256 sumFunc

// Sum256 returns the single sha256 of b
func Sum256(b []byte) [32]byte {
	return sum256(b)
}

// DoubleSum256 returns sha256(sha256(b))
func DoubleSum256(b []byte) [32]byte {
	first := sum256(b)
	return sum256(first[:])
}

// Implementation names the active sha256 backend
func Implementation() string {
	return implementation
}
