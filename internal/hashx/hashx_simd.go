//go:build !noavx

package hashx

import simdsha "github.com/minio/sha256-simd"

const implementation = "sha256-simd"

func init() {
	sum256 = simdsha.Sum256
}
