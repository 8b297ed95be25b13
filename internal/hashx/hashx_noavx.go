//go:build noavx

package hashx

import stdsha "crypto/sha256"

const implementation = "crypto/sha256"

func init() {
	sum256 = stdsha.Sum256
}
