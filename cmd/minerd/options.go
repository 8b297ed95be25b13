package main

import (
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/pkg/errors"
)

// benchmarkURL is the placeholder pool of a benchmark run without pools
const benchmarkURL = "http://benchmark.invalid"

// options are the command-line overrides. Unset options keep the value
// loaded from the environment.
type options struct {
	Algo        string        `short:"a" long:"algo" description:"Hash algorithm {sha256d, blake, decred, ...}"`
	Threads     int           `short:"t" long:"threads" description:"Number of miner threads"`
	URL         string        `short:"o" long:"url" description:"Pool URL; replaces the configured pool list"`
	User        string        `short:"u" long:"user" description:"Pool username"`
	Pass        string        `short:"p" long:"pass" description:"Pool password"`
	Benchmark   bool          `long:"benchmark" description:"Hash without a pool"`
	PoolsFile   string        `long:"pools" description:"TOML pool list"`
	ScanTime    time.Duration `short:"s" long:"scantime" description:"Upper bound on time spent scanning one getwork job"`
	TimeLimit   time.Duration `long:"time-limit" description:"Maximum time on a pool"`
	SharesLimit int           `long:"shares-limit" description:"Maximum shares on a pool"`
	Proxy       string        `short:"x" long:"proxy" description:"SOCKS5 proxy host:port"`
	NoLongPoll  bool          `long:"no-longpoll" description:"Disable long polling"`
	NoStratum   bool          `long:"no-stratum" description:"Ignore X-Stratum redirections"`
	NoGBT       bool          `long:"no-gbt" description:"Disable getblocktemplate"`
	NoGetwork   bool          `long:"no-getwork" description:"Disable getwork"`
	LogLevel    string        `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
}

// parseOptions parses args. A help request comes back as a *flags.Error
// of type flags.ErrHelp.
func parseOptions(args []string, parserOpts flags.Options) (*options, error) {
	var opts options
	parser := flags.NewParser(&opts, parserOpts)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

// apply overlays the options on cfg, as returned by config.LoadEnv, and
// finalizes it
func (o *options) apply(cfg *config.Config) error {
	if o.Algo != "" {
		cfg.Algo = o.Algo
	}
	if o.Threads != 0 {
		cfg.Threads = o.Threads
	}
	if o.Benchmark {
		cfg.Benchmark = true
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Proxy != "" {
		cfg.Proxy = o.Proxy
	}
	if o.NoLongPoll {
		cfg.WantLongPoll = false
	}
	if o.NoStratum {
		cfg.WantStratum = false
	}
	if o.NoGBT {
		cfg.AllowGBT = false
	}
	if o.NoGetwork {
		cfg.AllowGetwork = false
	}

	if o.ScanTime > 0 {
		cfg.ScanTime = o.ScanTime
	}
	if o.TimeLimit > 0 {
		cfg.TimeLimit = o.TimeLimit
	}
	if o.SharesLimit > 0 {
		cfg.SharesLimit = o.SharesLimit
	}

	switch {
	case o.URL != "":
		cfg.PoolsFile = ""
		cfg.Pools = []config.PoolConfig{{URL: o.URL, User: o.User, Pass: o.Pass}}
	case o.PoolsFile != "":
		pools, err := config.LoadPools(o.PoolsFile)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "options", "invalid pool list")
		}
		cfg.PoolsFile = o.PoolsFile
		cfg.Pools = pools
	case len(cfg.Pools) > 0:
		if o.User != "" {
			cfg.Pools[0].User = o.User
		}
		if o.Pass != "" {
			cfg.Pools[0].Pass = o.Pass
		}
	}

	if cfg.Benchmark && len(cfg.Pools) == 0 {
		cfg.Pools = []config.PoolConfig{{Name: "benchmark", URL: benchmarkURL}}
	}

	if err := cfg.Finalize(); err != nil {
		if errors.IsType(err, errors.ErrorTypeConfig) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeConfig, "options", "invalid configuration")
	}
	return nil
}
