package assembler

import (
	"encoding/hex"
	stderrors "errors"
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex %q: %v", s, err)
	}
	return b
}

func mustAlgo(t *testing.T, name string) *algo.Descriptor {
	t.Helper()
	d, err := algo.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCompactToDiff(t *testing.T) {
	tests := []struct {
		nbits uint32
		want  float64
	}{
		{0x1d00ffff, 1},
		{0x1c00ffff, 256},
		{0x1d007fff, 0xffff / float64(0x7fff)},
		{0x1d000000, 0},
	}
	for _, tt := range tests {
		if got := CompactToDiff(tt.nbits); math.Abs(got-tt.want) > 1e-9*tt.want {
			t.Errorf("CompactToDiff(%#x) = %v, want %v", tt.nbits, got, tt.want)
		}
	}
}

func TestDiffToTarget(t *testing.T) {
	got := DiffToTarget(1)
	want := [8]uint32{6: 0xffff0000}
	if got != want {
		t.Errorf("DiffToTarget(1) = %08x, want %08x", got, want)
	}

	got = DiffToTarget(0)
	for i, w := range got {
		if w != math.MaxUint32 {
			t.Errorf("DiffToTarget(0)[%d] = %08x, want ffffffff", i, w)
		}
	}

	for _, diff := range []float64{0.5, 1, 3.25, 1024, 65536 * 3} {
		back := TargetToDiff(DiffToTarget(diff))
		if math.Abs(back-diff)/diff > 1e-9 {
			t.Errorf("TargetToDiff(DiffToTarget(%v)) = %v", diff, back)
		}
	}
}

func TestHashMeetsTarget(t *testing.T) {
	target := DiffToTarget(1)

	var easy [32]byte
	easy[26] = 0x01 // below 0xffff<<208
	if !HashMeetsTarget(easy, target) {
		t.Error("HashMeetsTarget() = false for hash below target")
	}
	if d := HashDiff(easy); d <= 1 {
		t.Errorf("HashDiff() = %v, want > 1", d)
	}

	var hard [32]byte
	hard[31] = 0x01
	if HashMeetsTarget(hard, target) {
		t.Error("HashMeetsTarget() = true for hash above target")
	}
}

func TestMerkleRootBlock100000(t *testing.T) {
	txids := []string{
		"8c14f0db3df150123e6f3dbbf30f8b955a8249b62ac1d1ff16284aefa3d06d87",
		"fff2525b8931402dd09222c50775608f75787bd2b87e56995a7bdd30f79702c4",
		"6359f0868171b1d194cbee1af2f16ea598ae8fad666d9b012c8ed2b79a236ec4",
		"e9a66845e05d5abc0ad04ec80f774a7e585c6e8db975962d069a522137b80c1d",
	}
	leaves := make([]chainhash.Hash, len(txids))
	for i, s := range txids {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			t.Fatal(err)
		}
		leaves[i] = *h
	}

	const want = "f3e94742aca4b5ef85488dc37c06c3282295ffec960994b2c0d5ac2a25a95766"
	if got := MerkleRoot(leaves); got.String() != want {
		t.Errorf("MerkleRoot() = %s, want %s", got, want)
	}

	// the branch folds the first leaf back into the same root
	branch := MerkleBranch(leaves[1:])
	raw := make([][]byte, len(branch))
	for i := range branch {
		raw[i] = branch[i][:]
	}
	got := chainhash.Hash(FoldBranches(leaves[0], raw))
	if got.String() != want {
		t.Errorf("FoldBranches() = %s, want %s", got, want)
	}

	const odd = "fa435470825de273081dcc706b25514c936fa6dc80ab965ce6970d68ddd0b553"
	if got := MerkleRoot(leaves[:3]); got.String() != odd {
		t.Errorf("MerkleRoot(3 leaves) = %s, want %s", got, odd)
	}
}

// refMerkle is a recursive fold: odd levels pair their last hash with itself
func refMerkle(level []chainhash.Hash) chainhash.Hash {
	if len(level) == 1 {
		return level[0]
	}
	var next []chainhash.Hash
	for i := 0; i < len(level); i += 2 {
		j := min(i+1, len(level)-1)
		pair := append(append([]byte{}, level[i][:]...), level[j][:]...)
		next = append(next, chainhash.DoubleHashH(pair))
	}
	return refMerkle(next)
}

func TestMerkleRootOddLevels(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 6, 7, 11} {
		leaves := make([]chainhash.Hash, n)
		for i := range leaves {
			leaves[i] = chainhash.DoubleHashH([]byte{byte(i), byte(n)})
		}
		want := refMerkle(leaves)
		if got := MerkleRoot(leaves); got != want {
			t.Errorf("MerkleRoot(%d leaves) = %s, want %s", n, got, want)
		}

		branch := MerkleBranch(leaves[1:])
		raw := make([][]byte, len(branch))
		for i := range branch {
			raw[i] = branch[i][:]
		}
		if got := chainhash.Hash(FoldBranches(leaves[0], raw)); got != want {
			t.Errorf("FoldBranches(%d leaves) = %s, want %s", n, got, want)
		}
	}
}

func TestAppendScriptSig(t *testing.T) {
	tests := []struct {
		name       string
		sigLen     int
		extraLen   int
		wantPrefix []byte
	}{
		{"short push", 4, 7, []byte{7}},
		{"pushdata1", 4, 80, []byte{0x4c, 80}},
		{"no room for prefix", 4, 95, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := NewCoinbase(500000, 1, []byte{0x51})
			tx.TxIn[0].SignatureScript = make([]byte, tt.sigLen)
			extra := make([]byte, tt.extraLen)
			AppendScriptSig(tx, extra)

			got := tx.TxIn[0].SignatureScript
			wantLen := tt.sigLen + len(tt.wantPrefix) + tt.extraLen
			if len(got) != wantLen {
				t.Fatalf("script length = %d, want %d", len(got), wantLen)
			}
			prefix := got[tt.sigLen : tt.sigLen+len(tt.wantPrefix)]
			if hex.EncodeToString(prefix) != hex.EncodeToString(tt.wantPrefix) {
				t.Errorf("prefix = %x, want %x", prefix, tt.wantPrefix)
			}
		})
	}
}

func TestExtraDataBudget(t *testing.T) {
	sig := []byte("gominer")
	aux := [][]byte{make([]byte, 50), make([]byte, 50)}
	extra, skipped := ExtraData(4, sig, aux)
	if len(extra) != 57 {
		t.Errorf("len(extra) = %d, want 57", len(extra))
	}
	if len(skipped) != 1 {
		t.Errorf("len(skipped) = %d, want 1", len(skipped))
	}
}

const testTemplate = `{
	"version": 536870912,
	"previousblockhash": "00000000000000000000000000000000000000000000000000000000deadbeef",
	"transactions": [{"data": "0100000001abababababababababababababababababababababababababababababababab0000000000ffffffff0100000000000000000000000000"}],
	"coinbasevalue": 5000000000,
	"target": "00000000ffff0000000000000000000000000000000000000000000000000000",
	"curtime": 1600000000,
	"bits": "1d00ffff",
	"height": 500000,
	"workid": "w1",
	"longpollid": "lp-1"
}`

func TestBuildTemplate(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	tpl, err := ParseTemplate([]byte(testTemplate))
	if err != nil {
		t.Fatal(err)
	}
	if tpl.LongPollID != "lp-1" {
		t.Errorf("LongPollID = %q, want lp-1", tpl.LongPollID)
	}

	pk := mustHex(t, "76a914"+"1111111111111111111111111111111111111111"+"88ac")
	out, err := Build(tpl, d, TemplateConfig{PayoutScript: pk, CoinbaseSig: []byte("gominer")})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	w := out.Item

	checks := []struct {
		name      string
		got, want uint32
	}{
		{"version", w.Data[0], 0x00000020},
		{"prevhash low", w.Data[1], 0xefbeadde},
		{"prevhash high", w.Data[8], 0},
		{"merkle 0", w.Data[9], 0xb9bdcc98},
		{"merkle 7", w.Data[16], 0x3ffc8781},
		{"ntime", w.Data[17], 0x00105e5f},
		{"nbits", w.Data[18], 0xffff001d},
		{"padding", w.Data[20], 0x80000000},
		{"length", w.Data[31], 0x280},
		{"target", w.Target[6], 0xffff0000},
		{"height", w.Height, 500000},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#08x, want %#08x", c.name, c.got, c.want)
		}
	}

	const wantTx = "02" +
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0c0320a10707676f6d696e6572ffffffff0100f2052a010000001976a914111111111111111111111111111111111111111188ac00000000" +
		"0100000001abababababababababababababababababababababababababababababababab0000000000ffffffff0100000000000000000000000000"
	if w.TxHex != wantTx {
		t.Errorf("TxHex = %s, want %s", w.TxHex, wantTx)
	}
	if w.JobID != "5f5e1000" {
		t.Errorf("JobID = %q, want 5f5e1000", w.JobID)
	}
	if w.WorkID != "w1" {
		t.Errorf("WorkID = %q, want w1", w.WorkID)
	}
	if math.Abs(w.TargetDiff-1) > 1e-9 {
		t.Errorf("TargetDiff = %v, want 1", w.TargetDiff)
	}
}

func TestBuildTemplateFallback(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	tpl, err := ParseTemplate([]byte(testTemplate))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Build(tpl, d, TemplateConfig{GetworkFallback: true})
	if !stderrors.Is(err, ErrUseGetwork) {
		t.Errorf("Build() without payout = %v, want ErrUseGetwork", err)
	}

	_, err = Build(tpl, d, TemplateConfig{})
	if stderrors.Is(err, ErrUseGetwork) || !errors.IsType(err, errors.ErrorTypeConfig) {
		t.Errorf("Build() without payout or getwork = %v, want config error", err)
	}
}

func TestBuildTemplateVersion(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	pk := []byte{0x51}
	tests := []struct {
		name        string
		mutable     string
		fallback    bool
		wantErr     bool
		wantGetwork bool
		wantVersion uint32
	}{
		{"reduce", `["version/reduce"]`, false, false, false, 0x03000000},
		{"force", `["version/force"]`, true, false, false, 0x04000000},
		{"fallback", `[]`, true, true, true, 0},
		{"reject", `[]`, false, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"version": 4, "previousblockhash": "` + hex.EncodeToString(make([]byte, 32)) +
				`", "transactions": [], "coinbasevalue": 1, "target": "` + hex.EncodeToString(make([]byte, 32)) +
				`", "curtime": 1, "bits": "1d00ffff", "height": 10, "mutable": ` + tt.mutable + `}`
			tpl, err := ParseTemplate([]byte(raw))
			if err != nil {
				t.Fatal(err)
			}
			out, err := Build(tpl, d, TemplateConfig{PayoutScript: pk, GetworkFallback: tt.fallback})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if stderrors.Is(err, ErrUseGetwork) != tt.wantGetwork {
				t.Errorf("Build() getwork fallback = %v, want %v", stderrors.Is(err, ErrUseGetwork), tt.wantGetwork)
			}
			if err == nil && out.Item.Data[0] != tt.wantVersion {
				t.Errorf("Data[0] = %#08x, want %#08x", out.Item.Data[0], tt.wantVersion)
			}
		})
	}
}

func TestBuildTemplateMissingHeight(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	tpl, err := ParseTemplate([]byte(`{"version": 2, "curtime": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(tpl, d, TemplateConfig{PayoutScript: []byte{0x51}}); !errors.IsType(err, errors.ErrorTypeDecode) {
		t.Errorf("Build() error = %v, want decode error", err)
	}
}

func TestDecodeGetwork(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	data := make([]byte, 128)
	data[0] = 0x02
	copy(data[68:72], []byte{0x00, 0x10, 0x5e, 0x5f})
	target := make([]byte, 32)
	target[28] = 0xff

	w, err := DecodeGetwork(&GetworkResult{
		Data:   hex.EncodeToString(data),
		Target: hex.EncodeToString(target),
	}, d, GetworkConfig{})
	if err != nil {
		t.Fatalf("DecodeGetwork() error = %v", err)
	}
	if w.Data[0] != 2 {
		t.Errorf("Data[0] = %#x, want 2", w.Data[0])
	}
	if w.Data[17] != 0x5f5e1000 {
		t.Errorf("Data[17] = %#x, want 0x5f5e1000", w.Data[17])
	}
	if w.JobID != "00105e5f" {
		t.Errorf("JobID = %q, want 00105e5f", w.JobID)
	}
	if w.Target[7] != 0xff {
		t.Errorf("Target[7] = %#x, want 0xff", w.Target[7])
	}

	if _, err := DecodeGetwork(&GetworkResult{Data: "zz", Target: ""}, d, GetworkConfig{}); !errors.IsType(err, errors.ErrorTypeDecode) {
		t.Errorf("DecodeGetwork(bad hex) error = %v, want decode error", err)
	}
	if _, err := DecodeGetwork(&GetworkResult{Data: hex.EncodeToString(data[:80]), Target: ""}, d, GetworkConfig{}); err == nil {
		t.Error("DecodeGetwork(missing target) error = nil")
	}
}

func TestDecodeGetworkVote(t *testing.T) {
	d := mustAlgo(t, "decred")
	data := make([]byte, 180)
	data[100] = 0x03 // word 25: block valid plus an old vote bit
	data[128] = 0x2a // word 32: height 42
	w, err := DecodeGetwork(&GetworkResult{
		Data:   hex.EncodeToString(data),
		Target: hex.EncodeToString(make([]byte, 32)),
	}, d, GetworkConfig{Vote: 5, Rand: func() uint32 { return 1 }})
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Data[25] & 0xffff; got != 5<<1|1 {
		t.Errorf("vote word = %#x, want %#x", got, 5<<1|1)
	}
	if w.Height != 42 {
		t.Errorf("Height = %d, want 42", w.Height)
	}
	if w.Data[36] != 4 {
		t.Errorf("Data[36] = %d, want 4", w.Data[36])
	}
}

func stratumJob(t *testing.T) *work.StratumJob {
	t.Helper()
	job := &work.StratumJob{
		ID:        "job1",
		PrevHash:  append([]byte{0x01, 0x02, 0x03, 0x04}, make([]byte, 28)...),
		Coinbase1: mustHex(t, "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0c0320a107"),
		Coinbase2: mustHex(t, "ffffffff0100f2052a010000001976a914111111111111111111111111111111111111111188ac00000000"),
		MerkleBranches: [][]byte{
			mustHex(t, "1ee2ffa11c3c54c0d44e6eeffe7df3abd33d3f66fbd5c0e86de4a27e9227639a"),
		},
		Diff:    1,
		Xnonce2: make([]byte, 4),
	}
	copy(job.Version[:], mustHex(t, "20000000"))
	copy(job.Nbits[:], mustHex(t, "1d00ffff"))
	copy(job.Ntime[:], mustHex(t, "5f5e1000"))
	job.Height = CoinbaseHeight(job.Coinbase1)
	return job
}

func TestBuildStratumWork(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	job := stratumJob(t)
	xnonce1 := mustHex(t, "f0000001")

	w, err := BuildStratumWork(job, xnonce1, d, StratumConfig{})
	if err != nil {
		t.Fatalf("BuildStratumWork() error = %v", err)
	}

	checks := []struct {
		name      string
		got, want uint32
	}{
		{"version", w.Data[0], 0x00000020},
		{"prevhash", w.Data[1], 0x04030201},
		{"merkle 0", w.Data[9], 0xd24e6a21},
		{"merkle 7", w.Data[16], 0x7821f8f2},
		{"ntime", w.Data[17], 0x00105e5f},
		{"nbits", w.Data[18], 0xffff001d},
		{"padding", w.Data[20], 0x80000000},
		{"target", w.Target[6], 0xffff0000},
		{"height", w.Height, 500000},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#08x, want %#08x", c.name, c.got, c.want)
		}
	}
	if w.JobID != "f5e1000 job1" {
		t.Errorf("JobID = %q, want %q", w.JobID, "f5e1000 job1")
	}
	if w.PoolJobID() != "job1" {
		t.Errorf("PoolJobID() = %q, want job1", w.PoolJobID())
	}

	job.IncrementXnonce2()
	w2, err := BuildStratumWork(job, xnonce1, d, StratumConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if w2.Data[9] != 0xf835de59 || w2.Data[10] != 0x4534fccc {
		t.Errorf("merkle after xnonce2++ = %#08x %#08x, want 0xf835de59 0x4534fccc", w2.Data[9], w2.Data[10])
	}
	if hex.EncodeToString(w2.Xnonce2) != "01000000" {
		t.Errorf("Xnonce2 = %x, want 01000000", w2.Xnonce2)
	}
}

func TestBuildStratumWorkDiffScale(t *testing.T) {
	job := stratumJob(t)
	job.Diff = 65536

	w, err := BuildStratumWork(job, nil, mustAlgo(t, "scrypt"), StratumConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w.TargetDiff-1) > 1e-9 {
		t.Errorf("TargetDiff = %v, want 1", w.TargetDiff)
	}

	w, err = BuildStratumWork(job, nil, mustAlgo(t, "scrypt"), StratumConfig{DiffFactor: 2})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w.TargetDiff-0.5) > 1e-9 {
		t.Errorf("TargetDiff with factor = %v, want 0.5", w.TargetDiff)
	}
}

func TestBuildStratumWorkHeaderInCoinbase(t *testing.T) {
	d := mustAlgo(t, "decred")
	job := stratumJob(t)
	job.Coinbase1 = make([]byte, 108)
	job.Coinbase1[92] = 0x10 // word 32 of the header
	job.Coinbase1[64] = 0x01 // word 25

	w, err := BuildStratumWork(job, []byte{0xaa, 0xbb, 0xcc, 0xdd}, d, StratumConfig{Vote: 1})
	if err != nil {
		t.Fatal(err)
	}
	if w.Data[1] != 0x01020304 {
		t.Errorf("Data[1] = %#08x, want 0x01020304", w.Data[1])
	}
	if w.Height != 16 {
		t.Errorf("Height = %d, want 16", w.Height)
	}
	if got := w.Data[25] & 0xffff; got != 0x3 {
		t.Errorf("vote word = %#x, want 0x3", got)
	}
	if w.Data[36] != 0xddccbbaa {
		t.Errorf("Data[36] = %#08x, want 0xddccbbaa", w.Data[36])
	}

	job.Coinbase1 = job.Coinbase1[:50]
	if _, err := BuildStratumWork(job, nil, d, StratumConfig{}); err == nil {
		t.Error("BuildStratumWork(short coinbase1) error = nil")
	}
}

func TestCoinbaseHeight(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want uint32
	}{
		{"three bytes", "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0c0320a107", 500000},
		{"one byte", "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff04015a", 90},
		{"truncated", "0100000001", 0},
		{"oversized push", "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0c08", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoinbaseHeight(mustHex(t, tt.hex)); got != tt.want {
				t.Errorf("CoinbaseHeight() = %d, want %d", got, tt.want)
			}
		})
	}
}
