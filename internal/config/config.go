// Package config provides configuration management for the miner.
// It loads settings from environment variables with sensible defaults and
// the pool list from an optional TOML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/pkg/errors"
)

// Config holds the global configuration of the miner
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Mining
	Algo      string
	Threads   int
	Benchmark bool

	// Timing and retries
	ScanTime  time.Duration
	Retries   int // -1 retries forever
	FailPause time.Duration
	Timeout   time.Duration

	// Protocol switches
	AllowGBT            bool
	AllowGetwork        bool
	AllowMiningInfo     bool
	WantLongPoll        bool
	WantStratum         bool
	ExtranonceSubscribe bool
	CheckDups           bool
	PoolFailover        bool

	// Coinbase for solo GBT mining
	CoinbaseAddr string
	CoinbaseSig  string
	Chain        string

	// Stratum difficulty and vote
	DiffFactor float64
	Vote       uint16

	// Global throttle defaults
	MaxTemp    float64
	ResumeTemp float64
	MaxDiff    float64
	ResumeDiff float64
	MaxRate    float64
	ResumeRate float64

	// Limits
	TimeLimit   time.Duration
	SharesLimit int

	// Stats
	StatsAvg      int
	MaxLogRate    time.Duration
	StatsInterval time.Duration

	// SOCKS5 proxy
	Proxy     string
	ProxyUser string
	ProxyPass string

	// Pools
	PoolsFile string
	Pools     []PoolConfig

	// Sinks
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	PostgresURL  string
	KafkaBrokers []string

	// Logging
	LogLevel  string
	LogFormat string
}

// PoolConfig is the static configuration of one pool
type PoolConfig struct {
	Name        string
	URL         string
	User        string
	Pass        string
	Disabled    bool
	TimeLimit   time.Duration
	SharesLimit int
	MaxDiff     float64
	MaxRate     float64
	ScanTime    time.Duration
	ZMQ         string
}

// Stratum reports whether the pool speaks stratum
func (p *PoolConfig) Stratum() bool {
	return strings.HasPrefix(p.URL, "stratum+")
}

// Load loads configuration from environment variables with sensible
// defaults and validates it
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv reads the environment and the pool file without validating, for
// callers that overlay more settings before Finalize.
func LoadEnv() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "gominer"),
		Version:     getEnv("VERSION", "dev"),

		// Mining defaults
		Algo:      getEnv("ALGO", "sha256d"),
		Threads:   getEnvInt("THREADS", 1),
		Benchmark: getEnvBool("BENCHMARK", false),

		// Timing defaults
		ScanTime:  getEnvDuration("SCAN_TIME", 10*time.Second),
		Retries:   getEnvInt("RETRIES", -1),
		FailPause: getEnvDuration("FAIL_PAUSE", 30*time.Second),
		Timeout:   getEnvDuration("TIMEOUT", 300*time.Second),

		// Protocol defaults
		AllowGBT:            getEnvBool("ALLOW_GBT", true),
		AllowGetwork:        getEnvBool("ALLOW_GETWORK", true),
		AllowMiningInfo:     getEnvBool("ALLOW_MININGINFO", true),
		WantLongPoll:        getEnvBool("WANT_LONGPOLL", true),
		WantStratum:         getEnvBool("WANT_STRATUM", true),
		ExtranonceSubscribe: getEnvBool("EXTRANONCE_SUBSCRIBE", false),
		CheckDups:           getEnvBool("CHECK_DUPS", true),
		PoolFailover:        getEnvBool("POOL_FAILOVER", true),

		// Coinbase defaults
		CoinbaseAddr: getEnv("COINBASE_ADDR", ""),
		CoinbaseSig:  getEnv("COINBASE_SIG", ""),
		Chain:        getEnv("CHAIN", "mainnet"),

		DiffFactor: getEnvFloat("DIFF_FACTOR", 1.0),
		Vote:       uint16(getEnvInt("VOTE", 0)),

		// Throttle defaults, zero disables
		MaxTemp:    getEnvFloat("MAX_TEMP", 0),
		ResumeTemp: getEnvFloat("RESUME_TEMP", 0),
		MaxDiff:    getEnvFloat("MAX_DIFF", 0),
		ResumeDiff: getEnvFloat("RESUME_DIFF", 0),
		MaxRate:    getEnvFloat("MAX_RATE", 0),
		ResumeRate: getEnvFloat("RESUME_RATE", 0),

		TimeLimit:   getEnvDuration("TIME_LIMIT", 0),
		SharesLimit: getEnvInt("SHARES_LIMIT", 0),

		// Stats defaults
		StatsAvg:      getEnvInt("STATS_AVG", 30),
		MaxLogRate:    getEnvDuration("MAX_LOG_RATE", 3*time.Second),
		StatsInterval: getEnvDuration("STATS_INTERVAL", 30*time.Second),

		Proxy:     getEnv("PROXY", ""),
		ProxyUser: getEnv("PROXY_USER", ""),
		ProxyPass: getEnv("PROXY_PASS", ""),

		PoolsFile: getEnv("POOLS_FILE", ""),

		// Sinks are disabled unless configured
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "gominer"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.PoolsFile != "" {
		pools, err := LoadPools(cfg.PoolsFile)
		if err != nil {
			return nil, err
		}
		cfg.Pools = pools
	} else if url := getEnv("POOL_URL", ""); url != "" {
		cfg.Pools = []PoolConfig{{
			URL:  url,
			User: getEnv("POOL_USER", ""),
			Pass: getEnv("POOL_PASS", ""),
		}}
	}

	return cfg, nil
}

// Finalize normalizes pool entries, applies the global defaults and
// validates the result. It is run again after command-line overrides.
func (c *Config) Finalize() error {
	for i := range c.Pools {
		c.applyPoolDefaults(&c.Pools[i], i)
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func (c *Config) applyPoolDefaults(p *PoolConfig, index int) {
	p.URL = NormalizeURL(p.URL)
	if p.Name == "" {
		p.Name = fmt.Sprintf("pool%d", index)
	}
	if p.MaxDiff == 0 {
		p.MaxDiff = c.MaxDiff
	}
	if p.MaxRate == 0 {
		p.MaxRate = c.MaxRate
	}
	if p.TimeLimit == 0 {
		p.TimeLimit = c.TimeLimit
	}
	if p.SharesLimit == 0 {
		p.SharesLimit = c.SharesLimit
	}
	if p.ScanTime == 0 {
		p.ScanTime = c.ScanTime
	}
}

// NormalizeURL prefixes bare host:port pool addresses with http://
func NormalizeURL(url string) string {
	if url == "" || strings.Contains(url, "://") {
		return url
	}
	return "http://" + url
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if _, err := algo.Lookup(c.Algo); err != nil {
		return err
	}

	if c.Threads < 1 {
		return fmt.Errorf("THREADS must be at least 1")
	}

	if c.ScanTime <= 0 {
		return fmt.Errorf("SCAN_TIME must be positive")
	}

	if c.DiffFactor <= 0 {
		return fmt.Errorf("DIFF_FACTOR must be positive")
	}

	if !c.Benchmark && len(c.Pools) == 0 {
		return fmt.Errorf("no pool configured, set POOL_URL or POOLS_FILE")
	}

	if !c.AllowGBT && !c.AllowGetwork {
		for _, p := range c.Pools {
			if !p.Stratum() {
				return errors.Wrap(errors.ErrNoProtocol, errors.ErrorTypeConfig, "config",
					"ALLOW_GBT and ALLOW_GETWORK cannot both be false for "+p.URL)
			}
		}
	}

	for _, pair := range []struct {
		name            string
		resume, ceiling float64
	}{
		{"RESUME_TEMP", c.ResumeTemp, c.MaxTemp},
		{"RESUME_DIFF", c.ResumeDiff, c.MaxDiff},
		{"RESUME_RATE", c.ResumeRate, c.MaxRate},
	} {
		if pair.resume > 0 && pair.ceiling > 0 && pair.resume >= pair.ceiling {
			return fmt.Errorf("%s must be below its ceiling", pair.name)
		}
	}

	return nil
}

type poolsFile struct {
	Pools []poolEntry `toml:"pool"`
}

type poolEntry struct {
	Name        string  `toml:"name"`
	URL         string  `toml:"url"`
	User        string  `toml:"user"`
	Pass        string  `toml:"pass"`
	Disabled    bool    `toml:"disabled"`
	TimeLimit   int64   `toml:"time_limit"` // seconds
	SharesLimit int     `toml:"shares_limit"`
	MaxDiff     float64 `toml:"max_diff"`
	MaxRate     float64 `toml:"max_rate"`
	ScanTime    int64   `toml:"scantime"` // seconds
	ZMQ         string  `toml:"zmq"`
}

// LoadPools reads the [[pool]] tables of a TOML file
func LoadPools(path string) ([]PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParsePools(data)
}

// ParsePools decodes [[pool]] tables
func ParsePools(data []byte) ([]PoolConfig, error) {
	var pf poolsFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pools: %w", err)
	}
	pools := make([]PoolConfig, 0, len(pf.Pools))
	for _, e := range pf.Pools {
		if e.URL == "" {
			return nil, fmt.Errorf("pool %q has no url", e.Name)
		}
		pools = append(pools, PoolConfig{
			Name:        e.Name,
			URL:         e.URL,
			User:        e.User,
			Pass:        e.Pass,
			Disabled:    e.Disabled,
			TimeLimit:   time.Duration(e.TimeLimit) * time.Second,
			SharesLimit: e.SharesLimit,
			MaxDiff:     e.MaxDiff,
			MaxRate:     e.MaxRate,
			ScanTime:    time.Duration(e.ScanTime) * time.Second,
			ZMQ:         e.ZMQ,
		})
	}
	return pools, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
