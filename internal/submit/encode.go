package submit

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// IsDuplicate reports a reject reason meaning the share was already seen
func IsDuplicate(reason string) bool {
	return len(reason) >= 9 && strings.EqualFold(reason[:9], "duplicate")
}

func wordHex(v uint32, bigEndian bool) string {
	var b [4]byte
	if bigEndian {
		binary.BigEndian.PutUint32(b[:], v)
	} else {
		binary.LittleEndian.PutUint32(b[:], v)
	}
	return hex.EncodeToString(b[:])
}

// StratumParams builds the mining.submit parameter list for solution idx:
// user, pool job id, extranonce2, ntime, nonce, then vote bits and aux
// payload when the algorithm has them.
func StratumParams(user string, w *work.Item, idx int, d *algo.Descriptor) []any {
	ntime := wordHex(w.Data[d.NtimeWord], d.SubmitBigEndian)
	nonce := wordHex(w.Nonces[idx], d.SubmitBigEndian)

	xnonce2 := hex.EncodeToString(w.Xnonce2)
	if d.HeaderInCoinbase {
		// the extranonce2 lives in the header words after extranonce1
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint32(raw, w.Data[d.NonceWord+2])
		binary.LittleEndian.PutUint32(raw[4:], w.Data[d.NonceWord+3])
		n := min(len(w.Xnonce2), len(raw))
		xnonce2 = hex.EncodeToString(raw[:n])
	}

	params := []any{user, w.PoolJobID(), xnonce2, ntime, nonce}
	if d.Vote {
		var vote [2]byte
		binary.BigEndian.PutUint16(vote[:], uint16(w.Data[d.VoteWord]&0xffff))
		params = append(params, hex.EncodeToString(vote[:]))
	}
	if len(w.Aux) > 0 {
		params = append(params, hex.EncodeToString(w.Aux))
	}
	return params
}

// GetworkData is the getwork submission: every data word little-endian
func GetworkData(w *work.Item, d *algo.Descriptor) string {
	return hex.EncodeToString(w.Bytes(d.DataSize, true))
}

// BlockParams builds the submitblock parameters: the 80-byte header
// followed by the transaction blob, and the work id when the template
// carried one.
func BlockParams(w *work.Item, d *algo.Descriptor) []any {
	header := hex.EncodeToString(w.Bytes(80, d.LittleEndian))
	params := []any{header + w.TxHex}
	if w.WorkID != "" {
		params = append(params, map[string]any{"workid": w.WorkID})
	}
	return params
}

// BlockResult interprets a submitblock result: null accepts, a string is
// the reject reason, and an object accepts when any member is null.
func BlockResult(raw []byte) (bool, string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return true, "", nil
	}
	var reason string
	if err := jsonx.Unmarshal(raw, &reason); err == nil {
		return false, reason, nil
	}
	var obj map[string]jsonx.RawMessage
	if err := jsonx.Unmarshal(raw, &obj); err != nil {
		return false, "", errors.Wrap(err, errors.ErrorTypeDecode, "submitblock", "unexpected result")
	}
	var first string
	for k, v := range obj {
		if string(v) == "null" {
			return true, "", nil
		}
		if first == "" {
			_ = jsonx.Unmarshal(v, &first)
			if first == "" {
				first = k
			}
		}
	}
	return false, first, nil
}

// GetworkResult interprets a getwork submission result
func GetworkResult(raw []byte) (bool, error) {
	var ok bool
	if err := jsonx.Unmarshal(raw, &ok); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeDecode, "getwork",
			fmt.Sprintf("unexpected submit result %s", raw))
	}
	return ok, nil
}
