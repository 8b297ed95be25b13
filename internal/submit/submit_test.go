package submit

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

func mustAlgo(t *testing.T, name string) *algo.Descriptor {
	t.Helper()
	d, err := algo.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{"duplicate", true},
		{"Duplicate share", true},
		{"DUPLICATE-inconclusive", true},
		{"dup", false},
		{"", false},
		{"stale share", false},
		{"not duplicate", false},
	}
	for _, tt := range tests {
		if got := IsDuplicate(tt.reason); got != tt.want {
			t.Errorf("IsDuplicate(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestShareLog(t *testing.T) {
	l := NewShareLog()
	now := time.Unix(1_600_000_000, 0)
	l.now = func() time.Time { return now }

	if at := l.Sent("5f5e1000job1", nil, 7); !at.IsZero() {
		t.Fatalf("Sent() on empty log = %v, want zero", at)
	}
	l.Remember("5f5e1000job1", []byte{0, 1}, 7)
	if at := l.Sent("5f5e1000job1", []byte{0, 1}, 7); !at.Equal(now) {
		t.Errorf("Sent() = %v, want %v", at, now)
	}
	if at := l.Sent("5f5e1000job1", []byte{0, 2}, 7); !at.IsZero() {
		t.Errorf("Sent() with other extranonce2 = %v, want zero", at)
	}

	now = now.Add(10 * time.Minute)
	l.Remember("5f5e1258job1", nil, 8)
	l.Remember("5f5e1258job2", nil, 9)

	if n := l.PurgeJob("job2"); n != 2 {
		t.Errorf("PurgeJob() = %d, want 2", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}

	now = now.Add(StaleAge + time.Second)
	l.Remember("5f5e1600job3", nil, 1)
	if n := l.PurgeOlder(StaleAge); n != 1 {
		t.Errorf("PurgeOlder() = %d, want 1", n)
	}
	if at := l.Sent("5f5e1600job3", nil, 1); at.IsZero() {
		t.Error("recent share was purged")
	}
}

func TestStratumParams(t *testing.T) {
	t.Run("sha256d", func(t *testing.T) {
		d := mustAlgo(t, "sha256d")
		w := &work.Item{JobID: "5f5e1000job1", Xnonce2: []byte{0, 0, 0, 1}}
		w.Data[d.NtimeWord] = 0x5f5e1000
		w.Nonces[0] = 0x01020304

		got := StratumParams("worker", w, 0, d)
		want := []any{"worker", "job1", "00000001", "00105e5f", "04030201"}
		assertParams(t, got, want)
	})

	t.Run("decred", func(t *testing.T) {
		d := mustAlgo(t, "decred")
		w := &work.Item{JobID: "5f5e1000abc", Xnonce2: make([]byte, 4)}
		w.Data[d.NtimeWord] = 0x5f5e1000
		w.Data[d.NonceWord+2] = 0xaabbccdd
		w.Data[d.NonceWord+3] = 0x11223344
		w.Data[d.VoteWord] = 0x00010005
		w.Nonces[1] = 0x01020304

		got := StratumParams("worker", w, 1, d)
		want := []any{"worker", "abc", "ddccbbaa", "5f5e1000", "01020304", "0005"}
		assertParams(t, got, want)
	})

	t.Run("aux payload", func(t *testing.T) {
		d := mustAlgo(t, "sha256d")
		w := &work.Item{JobID: "5f5e1000j", Aux: []byte{0xbe, 0xef}}
		got := StratumParams("u", w, 0, d)
		if len(got) != 6 || got[5] != "beef" {
			t.Errorf("StratumParams() = %v, want aux beef appended", got)
		}
	})
}

func assertParams(t *testing.T, got, want []any) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("StratumParams() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("StratumParams()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBlockResult(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		accepted bool
		reason   string
		wantErr  bool
	}{
		{"null", `null`, true, "", false},
		{"empty", ``, true, "", false},
		{"reason", `"high-hash"`, false, "high-hash", false},
		{"object with null", `{"a":"bad","b":null}`, true, "", false},
		{"object rejected", `{"a":"inconclusive"}`, false, "inconclusive", false},
		{"number", `42`, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason, err := BlockResult([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("BlockResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.accepted || reason != tt.reason {
				t.Errorf("BlockResult() = %v %q, want %v %q", ok, reason, tt.accepted, tt.reason)
			}
		})
	}
}

func TestGetworkResult(t *testing.T) {
	if ok, err := GetworkResult([]byte("true")); err != nil || !ok {
		t.Errorf("GetworkResult(true) = %v, %v", ok, err)
	}
	if ok, err := GetworkResult([]byte("false")); err != nil || ok {
		t.Errorf("GetworkResult(false) = %v, %v", ok, err)
	}
	if _, err := GetworkResult([]byte(`"x"`)); err == nil {
		t.Error("GetworkResult() on a string should fail")
	}
}

func TestBlockParams(t *testing.T) {
	d := mustAlgo(t, "sha256d")
	w := &work.Item{TxHex: "01aa", WorkID: "w1"}
	w.Data[0] = 0x20000000
	params := BlockParams(w, d)
	if len(params) != 2 {
		t.Fatalf("BlockParams() len = %d, want 2", len(params))
	}
	blob := params[0].(string)
	if len(blob) != 160+4 || !strings.HasPrefix(blob, "20000000") || !strings.HasSuffix(blob, "01aa") {
		t.Errorf("BlockParams() blob = %s", blob)
	}
	if m := params[1].(map[string]any); m["workid"] != "w1" {
		t.Errorf("BlockParams() workid = %v, want w1", m["workid"])
	}
}

// daemon answers getwork and submitblock submissions
type daemon struct {
	mu     sync.Mutex
	calls  map[string]int
	params map[string][]jsonx.RawMessage
	result string
	reason string
}

func newDaemon(result string) *daemon {
	return &daemon{calls: map[string]int{}, params: map[string][]jsonx.RawMessage{}, result: result}
}

func (d *daemon) count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

func (d *daemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Method string             `json:"method"`
		Params []jsonx.RawMessage `json:"params"`
	}
	_ = jsonx.Unmarshal(body, &req)

	d.mu.Lock()
	d.calls[req.Method]++
	d.params[req.Method] = req.Params
	if d.reason != "" {
		w.Header().Set("X-Reject-Reason", d.reason)
	}
	result := d.result
	d.mu.Unlock()
	_, _ = io.WriteString(w, `{"id":1,"result":`+result+`,"error":null}`)
}

type fixture struct {
	pipe      *Pipeline
	registry  *pool.Registry
	flags     *pool.Flags
	cache     *work.Cache
	network   *work.Network
	restarter *work.Restarter
	reports   []Report
}

func newFixture(t *testing.T, d *algo.Descriptor, urls ...string) *fixture {
	t.Helper()
	cfgs := make([]config.PoolConfig, len(urls))
	for i, u := range urls {
		cfgs[i] = config.PoolConfig{URL: u, User: "u", Pass: "p"}
	}
	f := &fixture{
		registry:  pool.NewRegistry(cfgs, log.Nop()),
		flags:     pool.NewFlags(true, false, true),
		cache:     work.NewCache(),
		network:   work.NewNetwork(),
		restarter: work.NewRestarter(),
	}
	clients := func(p pool.Info) *rpc.Client {
		return rpc.NewClient(p.Config.URL, p.Config.User, p.Config.Pass, rpc.Options{Timeout: 5 * time.Second})
	}
	f.pipe = NewPipeline(d, f.registry, f.flags, f.network, f.cache, f.restarter, clients,
		Config{ReplyTimeout: time.Second}, log.Nop())
	f.pipe.Observe(func(r Report) { f.reports = append(f.reports, r) })
	return f
}

func shareItem(jobID string, nonce uint32, diff float64) *work.Item {
	w := &work.Item{JobID: jobID, ValidNonces: 1}
	w.Data[0] = 1
	w.Nonces[0] = nonce
	w.ShareDiff[0] = diff
	return w
}

func TestPipelineGetworkDedupe(t *testing.T) {
	dm := newDaemon("true")
	srv := httptest.NewServer(dm)
	defer srv.Close()

	f := newFixture(t, mustAlgo(t, "blake"), srv.URL)
	w := shareItem("5f5e1000job1", 0xdeadbeef, 1)

	rep, err := f.pipe.Submit(context.Background(), w, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Accepted {
		t.Errorf("Submit() outcome = %v, want accepted", rep.Outcome)
	}

	f.cache.Store(work.Item{JobID: "cached"}, time.Now())
	rep, err = f.pipe.Submit(context.Background(), w, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Duplicate {
		t.Errorf("second Submit() outcome = %v, want duplicate", rep.Outcome)
	}
	if n := dm.count("getwork"); n != 1 {
		t.Errorf("getwork calls = %d, want 1", n)
	}
	if !f.cache.Time().IsZero() {
		t.Error("duplicate did not invalidate the cache")
	}
	if len(f.reports) != 2 {
		t.Errorf("observed %d reports, want 2", len(f.reports))
	}
	if info := f.registry.Get(0); info.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", info.Accepted)
	}

	want := hex.EncodeToString([]byte{0xef, 0xbe, 0xad, 0xde})
	data := ""
	_ = jsonx.Unmarshal(dm.params["getwork"][0], &data)
	if got := data[19*8 : 20*8]; got != want {
		t.Errorf("submitted nonce = %s, want %s", got, want)
	}
}

func TestPipelineDuplicateRejectEnablesChecking(t *testing.T) {
	dm := newDaemon("false")
	dm.reason = "Duplicate share"
	srv := httptest.NewServer(dm)
	defer srv.Close()

	f := newFixture(t, mustAlgo(t, "sha256d"), srv.URL)
	if f.flags.CheckDups() {
		t.Fatal("duplicate checking enabled before any reject")
	}
	sig := f.restarter.Signal()

	rep, err := f.pipe.Submit(context.Background(), shareItem("5f5e1000job1", 1, 1), 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Rejected || rep.Reason != "Duplicate share" {
		t.Errorf("Submit() = %v %q, want rejected duplicate", rep.Outcome, rep.Reason)
	}
	if !f.flags.CheckDups() {
		t.Error("duplicate reject did not enable checking")
	}
	select {
	case <-sig:
	default:
		t.Error("duplicate reject did not restart workers")
	}
	if info := f.registry.Get(0); info.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", info.Rejected)
	}
}

func TestPipelineStalePool(t *testing.T) {
	dm := newDaemon("true")
	srv := httptest.NewServer(dm)
	defer srv.Close()

	f := newFixture(t, mustAlgo(t, "sha256d"), srv.URL, srv.URL)
	w := shareItem("5f5e1000job1", 1, 1)
	w.Pool = 1

	rep, err := f.pipe.Submit(context.Background(), w, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Stale {
		t.Errorf("Submit() outcome = %v, want stale", rep.Outcome)
	}
	if n := dm.count("getwork"); n != 0 {
		t.Errorf("getwork calls = %d, want 0", n)
	}
}

func TestPipelineSubmitBlock(t *testing.T) {
	dm := newDaemon("null")
	srv := httptest.NewServer(dm)
	defer srv.Close()

	f := newFixture(t, mustAlgo(t, "sha256d"), srv.URL)
	w := shareItem("5f5e1000job1", 5, 2000)
	w.TxHex = "01aa"
	w.WorkID = "w1"
	w.TargetDiff = 1000
	w.Height = 500000

	rep, err := f.pipe.Submit(context.Background(), w, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Accepted || !rep.Block {
		t.Errorf("Submit() = %v block=%v, want accepted block", rep.Outcome, rep.Block)
	}
	if n := dm.count("submitblock"); n != 1 {
		t.Fatalf("submitblock calls = %d, want 1", n)
	}
	var opts map[string]string
	_ = jsonx.Unmarshal(dm.params["submitblock"][1], &opts)
	if opts["workid"] != "w1" {
		t.Errorf("workid = %q, want w1", opts["workid"])
	}
	if info := f.registry.Get(0); info.Solved != 1 {
		t.Errorf("solved = %d, want 1", info.Solved)
	}
}

type fakeSession struct {
	mu     sync.Mutex
	params [][]any
	reply  stratum.SubmitResult
}

func (s *fakeSession) User() string { return "worker.1" }

func (s *fakeSession) Submit(params []any) (uint64, <-chan stratum.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = append(s.params, params)
	ch := make(chan stratum.SubmitResult, 1)
	res := s.reply
	res.ID = uint64(9 + len(s.params))
	ch <- res
	return res.ID, ch, nil
}

func TestPipelineStratum(t *testing.T) {
	f := newFixture(t, mustAlgo(t, "sha256d"), "stratum+tcp://pool.example:3333")

	w := shareItem("5f5e1000job1", 1, 1)
	w.Xnonce2 = []byte{0, 0, 0, 2}
	if _, err := f.pipe.Submit(context.Background(), w, 0); err == nil {
		t.Fatal("Submit() without a session should fail")
	}

	sess := &fakeSession{reply: stratum.SubmitResult{Accepted: true}}
	f.pipe.SetStratum(sess)
	w.Nonces[0] = 2
	rep, err := f.pipe.Submit(context.Background(), w, 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Outcome != Accepted {
		t.Errorf("Submit() outcome = %v, want accepted", rep.Outcome)
	}
	if len(sess.params) != 1 || sess.params[0][0] != "worker.1" || sess.params[0][2] != "00000002" {
		t.Errorf("submitted params = %v", sess.params)
	}
}

func TestPipelineStratumReplyTimeout(t *testing.T) {
	f := newFixture(t, mustAlgo(t, "sha256d"), "stratum+tcp://pool.example:3333")
	f.pipe.SetStratum(silentSession{})

	start := time.Now()
	_, err := f.pipe.Submit(context.Background(), shareItem("5f5e1000job1", 1, 1), 0)
	if err == nil {
		t.Fatal("Submit() without a reply should fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("reply timeout not honoured")
	}
}

type silentSession struct{}

func (silentSession) User() string { return "u" }

func (silentSession) Submit([]any) (uint64, <-chan stratum.SubmitResult, error) {
	return 10, make(chan stratum.SubmitResult), nil
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{Accepted: "accepted", Rejected: "rejected", Duplicate: "duplicate", Stale: "stale"}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", o, got, want)
		}
	}
}
