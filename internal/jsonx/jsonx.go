// Package jsonx is the JSON codec used on the pool wire paths. Builds use
// sonic unless the nojsonsimd tag selects encoding/json.
package jsonx

import stdjson "encoding/json"

// RawMessage defers decoding of a field
type RawMessage = stdjson.RawMessage

// Implementation names the active codec, for the startup log
func Implementation() string {
	return implementation
}
