package assembler

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/hashx"
	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// BlockVersionCurrent is the highest low-byte block version the assembler
// understands without the version/reduce mutation.
const BlockVersionCurrent = 3

// minCoinbaseTxn is the smallest acceptable pool-provided coinbase
const minCoinbaseTxn = 60

// ErrUseGetwork asks the caller to retry the pool with getwork
var ErrUseGetwork = stderrors.New("template needs getwork fallback")

// TemplateConfig carries what a template decode needs beyond the template
type TemplateConfig struct {
	PayoutScript []byte
	CoinbaseSig  []byte
	// GetworkFallback reports whether the pool may still be driven by
	// getwork if the template is unusable.
	GetworkFallback bool
}

// Template is a parsed getblocktemplate result
type Template struct {
	btcjson.GetBlockTemplateResult

	// Aux holds every coinbaseaux value, keyed by name.
	Aux     map[string]string
	present map[string]bool
}

// Assembled is the outcome of building work from a template
type Assembled struct {
	Item work.Item
	// Skipped lists extra coinbase data that did not fit the scriptSig.
	Skipped [][]byte
}

var requiredTemplateKeys = []string{
	"height", "version", "previousblockhash", "curtime", "bits", "transactions", "target",
}

// ParseTemplate decodes a getblocktemplate result object
func ParseTemplate(raw []byte) (*Template, error) {
	tpl := &Template{}
	if err := jsonx.Unmarshal(raw, &tpl.GetBlockTemplateResult); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid template")
	}
	var fields map[string]jsonx.RawMessage
	if err := jsonx.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid template")
	}
	tpl.present = make(map[string]bool, len(fields))
	for k, v := range fields {
		tpl.present[k] = string(v) != "null"
	}
	if aux, ok := fields["coinbaseaux"]; ok && tpl.present["coinbaseaux"] {
		if err := jsonx.Unmarshal(aux, &tpl.Aux); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid coinbaseaux")
		}
	}
	return tpl, nil
}

// Has reports whether key was present and non-null in the template
func (t *Template) Has(key string) bool {
	return t.present[key]
}

func (t *Template) mutable(name string) bool {
	for _, m := range t.Mutable {
		if m == name {
			return true
		}
	}
	return false
}

// Build assembles a block header, coinbase and submission hex from tpl.
// A wrapped ErrUseGetwork means the pool should be retried with getwork.
func Build(tpl *Template, d *algo.Descriptor, cfg TemplateConfig) (*Assembled, error) {
	for _, k := range requiredTemplateKeys {
		if !tpl.Has(k) {
			return nil, errors.New(errors.ErrorTypeDecode, "gbt", "missing "+k)
		}
	}
	if tpl.Height <= 0 || tpl.Height > int64(^uint32(0)) {
		return nil, errors.New(errors.ErrorTypeDecode, "gbt", fmt.Sprintf("invalid height %d", tpl.Height))
	}
	height := uint32(tpl.Height)

	version := uint32(tpl.Version)
	if version&0xff > BlockVersionCurrent {
		switch {
		case tpl.mutable("version/reduce"):
			version = version&^0xff | BlockVersionCurrent
		case cfg.GetworkFallback && !tpl.mutable("version/force"):
			return nil, fallback(fmt.Sprintf("block version %d unsupported", version&0xff))
		case !tpl.mutable("version/force"):
			return nil, errors.New(errors.ErrorTypeProtocol, "gbt",
				fmt.Sprintf("unrecognized block version %d", version&0xff))
		}
	}

	prevHash, err := hex.DecodeString(tpl.PreviousHash)
	if err != nil || len(prevHash) != 32 {
		return nil, errors.New(errors.ErrorTypeDecode, "gbt", "invalid previousblockhash")
	}
	nbits, err := hex.DecodeString(tpl.Bits)
	if err != nil || len(nbits) != 4 {
		return nil, errors.New(errors.ErrorTypeDecode, "gbt", "invalid bits")
	}
	target, err := hex.DecodeString(tpl.Target)
	if err != nil || len(target) != 32 {
		return nil, errors.New(errors.ErrorTypeDecode, "gbt", "invalid target")
	}

	cbtx, appendable, err := templateCoinbase(tpl, height, cfg)
	if err != nil {
		return nil, err
	}

	out := &Assembled{}
	if appendable {
		var aux [][]byte
		for _, k := range sortedKeys(tpl.Aux) {
			v, err := hex.DecodeString(tpl.Aux[k])
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid coinbaseaux "+k)
			}
			aux = append(aux, v)
		}
		extra, skipped := ExtraData(len(cbtx.TxIn[0].SignatureScript), cfg.CoinbaseSig, aux)
		AppendScriptSig(cbtx, extra)
		out.Skipped = skipped
	}

	txHex, leaves, err := templateTransactions(tpl, cbtx)
	if err != nil {
		return nil, err
	}
	root := MerkleRoot(leaves)

	w := &out.Item
	w.Data[0] = bits.ReverseBytes32(version)
	for i := 0; i < 8; i++ {
		w.Data[8-i] = binary.LittleEndian.Uint32(prevHash[i*4:])
		w.Data[9+i] = binary.BigEndian.Uint32(root[i*4:])
		w.Target[7-i] = binary.BigEndian.Uint32(target[i*4:])
	}
	w.Data[d.NtimeWord] = bits.ReverseBytes32(uint32(tpl.CurTime))
	w.Data[d.NbitsWord] = binary.LittleEndian.Uint32(nbits)
	for _, p := range d.Padding {
		w.Data[p.Index] = p.Value
	}
	w.TargetDiff = TargetToDiff(w.Target)
	w.JobID = ntimeJobID(w.Data[d.NtimeWord])
	w.Height = height
	w.TxHex = txHex
	w.WorkID = tpl.WorkID
	return out, nil
}

func fallback(reason string) error {
	return errors.Wrap(ErrUseGetwork, errors.ErrorTypeProtocol, "gbt", reason).WithRetryable(false)
}

// templateCoinbase returns the coinbase for tpl and whether extra data may
// be appended to it.
func templateCoinbase(tpl *Template, height uint32, cfg TemplateConfig) (*wire.MsgTx, bool, error) {
	if tpl.CoinbaseTxn != nil && tpl.CoinbaseTxn.Data != "" {
		raw, err := hex.DecodeString(tpl.CoinbaseTxn.Data)
		if err != nil || len(raw) < minCoinbaseTxn {
			return nil, false, errors.New(errors.ErrorTypeDecode, "gbt", "invalid coinbasetxn")
		}
		tx, err := DecodeTx(raw)
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid coinbasetxn")
		}
		return tx, tpl.mutable("coinbase/append"), nil
	}

	if len(cfg.PayoutScript) == 0 {
		if cfg.GetworkFallback {
			return nil, false, fallback("no payout address, switching to getwork")
		}
		return nil, false, errors.New(errors.ErrorTypeConfig, "gbt", "no payout address provided")
	}
	if tpl.CoinbaseValue == nil {
		return nil, false, errors.New(errors.ErrorTypeDecode, "gbt", "missing coinbasevalue")
	}

	tx := NewCoinbase(height, *tpl.CoinbaseValue, cfg.PayoutScript)
	if tpl.DefaultWitnessCommitment != "" {
		commitment, err := hex.DecodeString(tpl.DefaultWitnessCommitment)
		if err != nil {
			return nil, false, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", "invalid witness commitment")
		}
		tx.AddTxOut(wire.NewTxOut(0, commitment))
		tx.TxIn[0].Witness = wire.TxWitness{make([]byte, 32)}
	}
	return tx, true, nil
}

// templateTransactions serializes the block body and collects merkle leaves
func templateTransactions(tpl *Template, cbtx *wire.MsgTx) (string, []chainhash.Hash, error) {
	cb, err := SerializeTx(cbtx)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "gbt", "serialize coinbase")
	}

	var body bytes.Buffer
	if err := wire.WriteVarInt(&body, 0, uint64(len(tpl.Transactions)+1)); err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "gbt", "write tx count")
	}
	body.Write(cb)

	submitCoinbaseOnly := tpl.mutable("submit/coinbase")
	leaves := make([]chainhash.Hash, 0, len(tpl.Transactions)+1)
	leaves = append(leaves, cbtx.TxHash())
	for i, tx := range tpl.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return "", nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", fmt.Sprintf("invalid transaction %d", i))
		}
		if tx.TxID != "" {
			h, err := chainhash.NewHashFromStr(tx.TxID)
			if err != nil {
				return "", nil, errors.Wrap(err, errors.ErrorTypeDecode, "gbt", fmt.Sprintf("invalid txid %d", i))
			}
			leaves = append(leaves, *h)
		} else {
			leaves = append(leaves, chainhash.Hash(hashx.DoubleSum256(raw)))
		}
		if !submitCoinbaseOnly {
			body.Write(raw)
		}
	}
	return hex.EncodeToString(body.Bytes()), leaves, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
