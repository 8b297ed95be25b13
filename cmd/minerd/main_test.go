package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/workio"
	"github.com/bardlex/gominer/pkg/log"
)

func baseConfig() *config.Config {
	return &config.Config{
		ServiceName:  "minerd",
		Algo:         "sha256d",
		Threads:      1,
		ScanTime:     10 * time.Second,
		DiffFactor:   1,
		AllowGBT:     true,
		AllowGetwork: true,
		Chain:        "mainnet",
		LogLevel:     "info",
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-a", "blake", "-t", "4", "-o", "node:8332", "-u", "alice", "-p", "x",
		"--scantime", "5s", "--log-level", "debug"}, flags.HelpFlag)
	if err != nil {
		t.Fatalf("parseOptions() error = %v", err)
	}
	if opts.Algo != "blake" || opts.Threads != 4 || opts.URL != "node:8332" || opts.User != "alice" ||
		opts.Pass != "x" || opts.ScanTime != 5*time.Second || opts.LogLevel != "debug" {
		t.Errorf("parseOptions() = %+v", opts)
	}
}

func TestParseOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		help bool
	}{
		{"help", []string{"-h"}, true},
		{"unknown flag", []string{"--nope"}, false},
		{"bad level", []string{"--log-level", "loud"}, false},
		{"bad duration", []string{"--scantime", "soon"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOptions(tt.args, flags.HelpFlag)
			if err == nil {
				t.Fatal("parseOptions() error = nil")
			}
			ferr, ok := err.(*flags.Error)
			if got := ok && ferr.Type == flags.ErrHelp; got != tt.help {
				t.Errorf("help = %v, want %v (%v)", got, tt.help, err)
			}
		})
	}
}

func TestApplyURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Pools = []config.PoolConfig{{URL: "http://a:1"}, {URL: "http://b:1"}}
	opts := &options{URL: "node:8332", User: "alice", Pass: "x", Threads: 3, ScanTime: 5 * time.Second}
	if err := opts.apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if len(cfg.Pools) != 1 {
		t.Fatalf("pools = %d, want 1", len(cfg.Pools))
	}
	p := cfg.Pools[0]
	if p.URL != "http://node:8332" || p.User != "alice" || p.Pass != "x" || p.Name != "pool0" {
		t.Errorf("pool = %+v", p)
	}
	if p.ScanTime != 5*time.Second {
		t.Errorf("pool ScanTime = %v, want 5s", p.ScanTime)
	}
	if cfg.Threads != 3 {
		t.Errorf("Threads = %d, want 3", cfg.Threads)
	}
}

func TestApplyCredentialsOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.Pools = []config.PoolConfig{{URL: "stratum+tcp://pool:3333", User: "old"}}
	if err := (&options{User: "new"}).apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if cfg.Pools[0].User != "new" || cfg.Pools[0].URL != "stratum+tcp://pool:3333" {
		t.Errorf("pool = %+v", cfg.Pools[0])
	}
}

func TestApplyPoolsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.toml")
	body := `
[[pool]]
name = "solo"
url = "http://127.0.0.1:8332"
user = "rpc"
pass = "secret"

[[pool]]
url = "stratum+tcp://backup:3333"
shares_limit = 10
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	if err := (&options{PoolsFile: path}).apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if len(cfg.Pools) != 2 || cfg.Pools[0].Name != "solo" || cfg.Pools[1].SharesLimit != 10 {
		t.Errorf("pools = %+v", cfg.Pools)
	}
}

func TestApplyBenchmarkPlaceholder(t *testing.T) {
	cfg := baseConfig()
	if err := (&options{Benchmark: true}).apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].URL != benchmarkURL {
		t.Errorf("pools = %+v, want the benchmark placeholder", cfg.Pools)
	}
}

func TestApplyExitCodes(t *testing.T) {
	tests := []struct {
		name string
		opts options
		want int
	}{
		{"no pool", options{}, workio.ExitUsage},
		{"unknown algo", options{URL: "http://a:1", Algo: "nope"}, workio.ExitUsage},
		{"no protocol", options{URL: "http://a:1", NoGBT: true, NoGetwork: true}, workio.ExitNoProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.apply(baseConfig())
			if err == nil {
				t.Fatal("apply() error = nil")
			}
			if got := workio.ExitCode(err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.want)
			}
		})
	}
}

func TestNewAppBenchmark(t *testing.T) {
	cfg := baseConfig()
	cfg.Threads = 2
	cfg.StatsAvg = 5
	cfg.StatsInterval = time.Minute
	if err := (&options{Benchmark: true}).apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	a, err := newApp(cfg, log.Nop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()
	if a.miner.Threads() != 2 {
		t.Errorf("Threads() = %d, want 2", a.miner.Threads())
	}
	if a.db.Enabled() || a.kafka != nil {
		t.Error("telemetry enabled without configuration")
	}
}

func TestNewAppBadCoinbase(t *testing.T) {
	cfg := baseConfig()
	cfg.CoinbaseAddr = "not-an-address"
	if err := (&options{URL: "http://a:1"}).apply(cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	_, err := newApp(cfg, log.Nop())
	if got := workio.ExitCode(err); got != workio.ExitUsage {
		t.Errorf("ExitCode(%v) = %d, want %d", err, got, workio.ExitUsage)
	}
}
