package stratum

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gominer/internal/jsonx"
)

// MaxRecordSize bounds one line or frame
const MaxRecordSize = 1 << 20

// Codec turns messages into wire records and reassembles inbound bytes
// into messages. Feed keeps any trailing partial record for the next call.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Feed(data []byte) ([]*Message, error)
	Name() string
}

// JSONCodec is line-delimited JSON
type JSONCodec struct {
	buf []byte
}

// NewJSONCodec creates a line codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Name identifies the codec in logs
func (c *JSONCodec) Name() string { return "json" }

// Encode renders msg followed by a newline
func (c *JSONCodec) Encode(msg *Message) ([]byte, error) {
	data, err := jsonx.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Feed returns every complete line in data plus what was buffered
func (c *JSONCodec) Feed(data []byte) ([]*Message, error) {
	c.buf = append(c.buf, data...)
	var out []*Message
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(c.buf[:i])
		c.buf = c.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	if len(c.buf) > MaxRecordSize {
		c.buf = nil
		return out, fmt.Errorf("line exceeds %d bytes", MaxRecordSize)
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return out, nil
}

// ParseMessage parses one JSON record
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := jsonx.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// BinaryCodec frames each message as a 4-byte big-endian length followed
// by a protobuf Struct holding the same fields as the JSON form.
type BinaryCodec struct {
	buf []byte
}

// NewBinaryCodec creates a length-framed codec
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{}
}

// Name identifies the codec in logs
func (c *BinaryCodec) Name() string { return "binary" }

// Encode renders msg as one frame
func (c *BinaryCodec) Encode(msg *Message) ([]byte, error) {
	fields := map[string]any{
		"id": idValue(msg.ID),
	}
	if msg.Method != "" {
		fields["method"] = msg.Method
		params := msg.Params
		if params == nil {
			params = []any{}
		}
		fields["params"] = params
	}
	if len(msg.Result) > 0 {
		var v any
		if err := jsonx.Unmarshal(msg.Result, &v); err != nil {
			return nil, fmt.Errorf("binary encode result: %w", err)
		}
		fields["result"] = v
	}
	if len(msg.Error) > 0 {
		var v any
		if err := jsonx.Unmarshal(msg.Error, &v); err != nil {
			return nil, fmt.Errorf("binary encode error: %w", err)
		}
		fields["error"] = v
	}

	st, err := structpb.NewStruct(normalize(fields).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("binary encode: %w", err)
	}
	body, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("binary encode: %w", err)
	}
	if len(body) > MaxRecordSize {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxRecordSize)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// Feed accumulates bytes until whole frames are available
func (c *BinaryCodec) Feed(data []byte) ([]*Message, error) {
	c.buf = append(c.buf, data...)
	var out []*Message
	for len(c.buf) >= 4 {
		n := binary.BigEndian.Uint32(c.buf)
		if n > MaxRecordSize {
			c.buf = nil
			return out, fmt.Errorf("frame of %d bytes exceeds %d", n, MaxRecordSize)
		}
		if uint32(len(c.buf)-4) < n {
			break
		}
		body := c.buf[4 : 4+n]
		c.buf = c.buf[4+n:]

		msg, err := decodeFrame(body)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return out, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame
func (c *BinaryCodec) Buffered() int { return len(c.buf) }

func decodeFrame(body []byte) (*Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("binary decode: %w", err)
	}
	fields := st.AsMap()

	msg := &Message{ID: fields["id"]}
	if m, ok := fields["method"].(string); ok {
		msg.Method = m
	}
	if p, ok := fields["params"].([]any); ok {
		msg.Params = p
	}
	if v, ok := fields["result"]; ok {
		raw, err := jsonx.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("binary decode result: %w", err)
		}
		msg.Result = raw
	}
	if v, ok := fields["error"]; ok && v != nil {
		raw, err := jsonx.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("binary decode error: %w", err)
		}
		msg.Error = raw
	}
	return msg, nil
}

// idValue maps request ids onto structpb-compatible numbers
func idValue(id any) any {
	switch v := id.(type) {
	case uint64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return v
	}
}

// normalize converts typed slices and integers that structpb.NewValue
// does not accept.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case uint64:
		return float64(t)
	case uint32:
		return float64(t)
	default:
		return v
	}
}
