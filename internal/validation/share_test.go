package validation

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/work"
)

const genesisNonce = 2083236893

// genesis returns the bitcoin genesis header with its nonce recorded as a
// solution
func genesis(t *testing.T) *work.Item {
	t.Helper()
	raw, err := hex.DecodeString("01000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
		"29ab5f49" + "ffff001d" + "1dac2b7c")
	if err != nil {
		t.Fatal(err)
	}
	w := &work.Item{JobID: "genesis"}
	for i := 0; i < 20; i++ {
		w.Data[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	w.Target = assembler.DiffToTarget(1)
	w.ScannedFrom = genesisNonce - 100
	w.ScannedTo = genesisNonce
	w.AddShare(genesisNonce, 0)
	return w
}

func mustValidator(t *testing.T, minDiff float64) *ShareValidator {
	t.Helper()
	d, err := algo.Lookup("sha256d")
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewShareValidator(d, minDiff)
	if err != nil {
		t.Fatalf("NewShareValidator() error = %v", err)
	}
	return v
}

func TestValidateShare(t *testing.T) {
	v := mustValidator(t, 0)
	w := genesis(t)
	diff, err := v.ValidateShare(w, 0)
	if err != nil {
		t.Fatalf("ValidateShare() error = %v", err)
	}
	if diff < 1 {
		t.Errorf("ValidateShare() diff = %v, want >= 1", diff)
	}
}

func TestValidateShareRejects(t *testing.T) {
	tests := []struct {
		name    string
		minDiff float64
		mutate  func(w *work.Item)
		idx     int
	}{
		{"index out of range", 0, func(*work.Item) {}, 1},
		{"wrong nonce", 0, func(w *work.Item) { w.Nonces[0] = genesisNonce - 1 }, 0},
		{"outside scanned range", 0, func(w *work.Item) { w.ScannedTo = genesisNonce - 1 }, 0},
		{"empty item", 0, func(w *work.Item) { w.Data[0], w.Data[1] = 0, 0 }, 0},
		{"below floor", 1e15, func(*work.Item) {}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustValidator(t, tt.minDiff)
			w := genesis(t)
			tt.mutate(w)
			if _, err := v.ValidateShare(w, tt.idx); err == nil {
				t.Error("ValidateShare() error = nil, want refusal")
			}
		})
	}
}

func TestNewShareValidatorUnknownAlgo(t *testing.T) {
	if _, err := NewShareValidator(&algo.Descriptor{Name: "scrypt"}, 0); err == nil {
		t.Error("NewShareValidator(scrypt) error = nil")
	}
}

func TestIsBlockCandidate(t *testing.T) {
	tests := []struct {
		share, net float64
		want       bool
	}{
		{10, 5, true},
		{5, 5, true},
		{4, 5, false},
		{10, 0, false},
	}
	for _, tt := range tests {
		if got := IsBlockCandidate(tt.share, tt.net); got != tt.want {
			t.Errorf("IsBlockCandidate(%v, %v) = %v, want %v", tt.share, tt.net, got, tt.want)
		}
	}
}
