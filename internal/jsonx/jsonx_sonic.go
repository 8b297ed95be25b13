//go:build !nojsonsimd

package jsonx

import (
	"reflect"

	"github.com/bytedance/sonic"
)

const implementation = "sonic"

var fastJSON = sonic.ConfigDefault

// Marshal encodes v
func Marshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}

// Pretouch compiles codecs for the hot wire types ahead of first use.
// Failures only cost first-call latency.
func Pretouch(types ...reflect.Type) {
	for _, t := range types {
		_ = sonic.Pretouch(t)
	}
}
