package assembler

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// maxScriptSig is the scriptSig budget extra coinbase data must fit in
const maxScriptSig = 100

// ChainParams resolves a network name
func ChainParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown chain %q", name)
	}
}

// PayoutScript builds the output script paying addr
func PayoutScript(addr string, params *chaincfg.Params) ([]byte, error) {
	if addr == "" {
		return nil, nil
	}
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("decode payout address: %w", err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("build payout script: %w", err)
	}
	return script, nil
}

// heightScript is the BIP34 height push: a length byte followed by the
// minimal little-endian height bytes.
func heightScript(height uint32) []byte {
	var raw []byte
	for n := height; n != 0; n >>= 8 {
		raw = append(raw, byte(n))
	}
	return append([]byte{byte(len(raw))}, raw...)
}

// NewCoinbase builds a one-input one-output coinbase paying value to pkScript
func NewCoinbase(height uint32, value int64, pkScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  heightScript(height),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	tx.LockTime = 0
	return tx
}

// ExtraData collects the operator signature and pool aux values that can
// be appended to a scriptSig of length sigLen. Items that do not fit are
// returned in skipped.
func ExtraData(sigLen int, signature []byte, aux [][]byte) (extra []byte, skipped [][]byte) {
	if len(signature) > 0 {
		if sigLen+len(extra)+len(signature) <= maxScriptSig {
			extra = append(extra, signature...)
		} else {
			skipped = append(skipped, signature)
		}
	}
	for _, a := range aux {
		if sigLen+len(extra)+len(a) <= maxScriptSig {
			extra = append(extra, a...)
		} else {
			skipped = append(skipped, a)
		}
	}
	return extra, skipped
}

// AppendScriptSig appends extra to the coinbase input script with the
// push prefix the resulting length allows: a single length byte below 76
// bytes, OP_PUSHDATA1 plus length up to the 100 byte budget, and no
// prefix beyond it.
func AppendScriptSig(tx *wire.MsgTx, extra []byte) {
	if len(extra) == 0 || len(tx.TxIn) == 0 {
		return
	}
	in := tx.TxIn[0]
	sigLen := len(in.SignatureScript)

	var prefix []byte
	switch {
	case sigLen+len(extra) < txscript.OP_PUSHDATA1:
		prefix = []byte{byte(len(extra))}
	case sigLen+2+len(extra) <= maxScriptSig:
		prefix = []byte{txscript.OP_PUSHDATA1, byte(len(extra))}
	}

	script := make([]byte, 0, sigLen+len(prefix)+len(extra))
	script = append(script, in.SignatureScript...)
	script = append(script, prefix...)
	script = append(script, extra...)
	in.SignatureScript = script
}

// SerializeTx encodes tx with witness data when present
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTx parses a raw transaction
func DecodeTx(raw []byte) (*wire.MsgTx, error) {
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
