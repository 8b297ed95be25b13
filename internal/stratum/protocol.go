// Package stratum implements the client side of the Stratum mining
// protocol: the session state machine and its two wire codecs.
package stratum

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bardlex/gominer/internal/jsonx"
)

// Message is one Stratum JSON-RPC record, request or response
type Message struct {
	ID     any              `json:"id"`
	Method string           `json:"method,omitempty"`
	Params []any            `json:"params,omitempty"`
	Result jsonx.RawMessage `json:"result,omitempty"`
	Error  jsonx.RawMessage `json:"error,omitempty"`
}

// Request ids below firstSubmitID are reserved for the handshake
const (
	idSubscribe          = 1
	idAuthorize          = 2
	idExtranonce         = 3
	reservedIDs          = 4
	firstSubmitID uint64 = 10
)

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
	ErrorMethodNotFound = -32601
)

// MarshalJSON always writes params on requests and result/error on
// responses; some pools reject records missing either.
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Method == "" {
		result := m.Result
		if len(result) == 0 {
			result = jsonx.RawMessage("null")
		}
		errField := m.Error
		if len(errField) == 0 {
			errField = jsonx.RawMessage("null")
		}
		return jsonx.Marshal(struct {
			ID     any              `json:"id"`
			Result jsonx.RawMessage `json:"result"`
			Error  jsonx.RawMessage `json:"error"`
		}{m.ID, result, errField})
	}
	params := m.Params
	if params == nil {
		params = []any{}
	}
	return jsonx.Marshal(struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}{m.ID, m.Method, params})
}

// NewRequest creates a request message
func NewRequest(id uint64, method string, params []any) *Message {
	return &Message{ID: id, Method: method, Params: params}
}

// NewResponse creates a response to a server request
func NewResponse(id any, result any) (*Message, error) {
	raw, err := jsonx.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Result: raw}, nil
}

// IsResponse reports a reply to one of our requests
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// IDNumber returns the numeric id of a message
func (m *Message) IDNumber() (uint64, bool) {
	switch v := m.ID.(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ResultBool decodes a boolean result; null and malformed results are false
func (m *Message) ResultBool() bool {
	var ok bool
	if len(m.Result) == 0 {
		return false
	}
	if err := jsonx.Unmarshal(m.Result, &ok); err != nil {
		return false
	}
	return ok
}

// ErrorReason extracts the human-readable part of an error field, which
// pools send as [code, "message", data], as an object, or as a string.
func (m *Message) ErrorReason() string {
	raw := m.Error
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var arr []any
	if err := jsonx.Unmarshal(raw, &arr); err == nil {
		if len(arr) >= 2 {
			if s, ok := arr[1].(string); ok {
				return s
			}
		}
		return strings.Trim(string(raw), "[]")
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := jsonx.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := jsonx.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SubscribeResult is the decoded mining.subscribe reply
type SubscribeResult struct {
	SessionID   string
	Extranonce1 []byte
	Xnonce2Size int
}

// ParseSubscribeResult decodes [subscriptions, extranonce1, extranonce2_size]
func ParseSubscribeResult(raw jsonx.RawMessage) (*SubscribeResult, error) {
	var res []any
	if err := jsonx.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("subscribe result: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("subscribe result: %d fields", len(res))
	}

	out := &SubscribeResult{}
	// subscriptions: [["mining.notify", "id"], ...] or a flat pair
	if subs, ok := res[0].([]any); ok {
		out.SessionID = sessionID(subs)
	}

	x1, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("subscribe result: extranonce1 must be string")
	}
	xnonce1, err := hex.DecodeString(x1)
	if err != nil {
		return nil, fmt.Errorf("subscribe result: extranonce1: %w", err)
	}
	out.Extranonce1 = xnonce1

	size, ok := res[2].(float64)
	if !ok || size < 0 || size > 16 {
		return nil, fmt.Errorf("subscribe result: invalid extranonce2 size %v", res[2])
	}
	out.Xnonce2Size = int(size)
	return out, nil
}

func sessionID(subs []any) string {
	if len(subs) == 2 {
		if method, ok := subs[0].(string); ok && method == "mining.notify" {
			id, _ := subs[1].(string)
			return id
		}
	}
	for _, s := range subs {
		pair, ok := s.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		if method, _ := pair[0].(string); method == "mining.notify" {
			id, _ := pair[1].(string)
			return id
		}
	}
	return ""
}

// NotifyParams is the decoded mining.notify payload
type NotifyParams struct {
	JobID          string
	PrevHash       []byte
	Coinbase1      []byte
	Coinbase2      []byte
	MerkleBranches [][]byte
	Version        [4]byte
	Nbits          [4]byte
	Ntime          [4]byte
	Clean          bool
}

// ParseNotify decodes mining.notify parameters
func ParseNotify(params []any) (*NotifyParams, error) {
	if len(params) < 8 {
		return nil, fmt.Errorf("notify: %d params", len(params))
	}
	str := func(i int, name string) (string, error) {
		s, ok := params[i].(string)
		if !ok {
			return "", fmt.Errorf("notify: %s must be string", name)
		}
		return s, nil
	}
	hexField := func(i int, name string) ([]byte, error) {
		s, err := str(i, name)
		if err != nil {
			return nil, err
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("notify: %s: %w", name, err)
		}
		return b, nil
	}
	word := func(i int, name string, dst *[4]byte) error {
		b, err := hexField(i, name)
		if err != nil {
			return err
		}
		if len(b) != 4 {
			return fmt.Errorf("notify: %s must be 4 bytes", name)
		}
		copy(dst[:], b)
		return nil
	}

	n := &NotifyParams{}
	var err error
	if n.JobID, err = str(0, "job_id"); err != nil {
		return nil, err
	}
	if n.PrevHash, err = hexField(1, "prevhash"); err != nil {
		return nil, err
	}
	if len(n.PrevHash) != 32 {
		return nil, fmt.Errorf("notify: prevhash must be 32 bytes")
	}
	if n.Coinbase1, err = hexField(2, "coinb1"); err != nil {
		return nil, err
	}
	if n.Coinbase2, err = hexField(3, "coinb2"); err != nil {
		return nil, err
	}

	branches, ok := params[4].([]any)
	if !ok {
		return nil, fmt.Errorf("notify: merkle_branch must be an array")
	}
	for i, b := range branches {
		s, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("notify: merkle branch %d must be string", i)
		}
		h, err := hex.DecodeString(s)
		if err != nil || len(h) != 32 {
			return nil, fmt.Errorf("notify: merkle branch %d must be 32 hex bytes", i)
		}
		n.MerkleBranches = append(n.MerkleBranches, h)
	}

	if err := word(5, "version", &n.Version); err != nil {
		return nil, err
	}
	if err := word(6, "nbits", &n.Nbits); err != nil {
		return nil, err
	}
	if err := word(7, "ntime", &n.Ntime); err != nil {
		return nil, err
	}
	if len(params) > 8 {
		n.Clean, _ = params[8].(bool)
	}
	return n, nil
}

// ParseSetDifficulty decodes mining.set_difficulty parameters
func ParseSetDifficulty(params []any) (float64, error) {
	if len(params) < 1 {
		return 0, fmt.Errorf("set_difficulty: no params")
	}
	switch v := params[0].(type) {
	case float64:
		if v <= 0 {
			return 0, fmt.Errorf("set_difficulty: %v", v)
		}
		return v, nil
	case string:
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("set_difficulty: %q", v)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("set_difficulty: unexpected %T", params[0])
	}
}

// ParseSetExtranonce decodes mining.set_extranonce parameters
func ParseSetExtranonce(params []any) ([]byte, int, error) {
	if len(params) < 2 {
		return nil, 0, fmt.Errorf("set_extranonce: %d params", len(params))
	}
	s, ok := params[0].(string)
	if !ok {
		return nil, 0, fmt.Errorf("set_extranonce: extranonce1 must be string")
	}
	x1, err := hex.DecodeString(s)
	if err != nil {
		return nil, 0, fmt.Errorf("set_extranonce: %w", err)
	}
	size, ok := params[1].(float64)
	if !ok || size < 0 || size > 16 {
		return nil, 0, fmt.Errorf("set_extranonce: invalid extranonce2 size %v", params[1])
	}
	return x1, int(size), nil
}

// ParseReconnect decodes client.reconnect [host, port, wait]. Missing
// fields fall back to the current host and port.
func ParseReconnect(params []any, host, port string) (string, string, int) {
	wait := 0
	if len(params) > 0 {
		if h, ok := params[0].(string); ok && h != "" {
			host = h
		}
	}
	if len(params) > 1 {
		switch p := params[1].(type) {
		case string:
			if p != "" {
				port = p
			}
		case float64:
			port = strconv.Itoa(int(p))
		}
	}
	if len(params) > 2 {
		switch w := params[2].(type) {
		case float64:
			wait = int(w)
		case string:
			wait, _ = strconv.Atoi(w)
		}
	}
	return host, port, wait
}
