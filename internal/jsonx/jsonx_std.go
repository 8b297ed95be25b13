//go:build nojsonsimd

package jsonx

import (
	stdjson "encoding/json"
	"reflect"
)

const implementation = "encoding/json"

// Marshal encodes v
func Marshal(v any) ([]byte, error) {
	return stdjson.Marshal(v)
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v any) error {
	return stdjson.Unmarshal(data, v)
}

// Pretouch is a no-op for encoding/json
func Pretouch(...reflect.Type) {}
