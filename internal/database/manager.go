// Package database connects the optional telemetry backends (Redis,
// InfluxDB, PostgreSQL) and feeds them snapshots and share outcomes.
package database

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// DefaultQueueSize bounds the share reports waiting to be recorded
const DefaultQueueSize = 256

// recordTimeout bounds one report across every recorder
const recordTimeout = 10 * time.Second

// ShareRecorder stores share outcomes
type ShareRecorder interface {
	Name() string
	RecordShare(ctx context.Context, rep submit.Report) error
}

type recorder struct {
	ShareRecorder
	breaker *circuit.Breaker
}

// Manager owns the backend connections. Share reports are queued by the
// submit observer and recorded on the Run goroutine, so a slow backend
// never holds up a submission.
type Manager struct {
	logger    *log.Logger
	sinks     []stats.Sink
	recorders []recorder
	closers   []func() error
	asyncErrs <-chan error

	queue   chan submit.Report
	dropped atomic.Uint64
	retry   *retry.Config
}

// New returns a manager without backends
func New(queueSize int, logger *log.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		logger: logger.WithComponent("database"),
		queue:  make(chan submit.Report, queueSize),
		retry:  retry.SinkConfig(),
	}
}

// Open connects every backend cfg names. A backend that cannot be reached
// is logged and skipped; telemetry never stops the miner.
func Open(cfg *config.Config, logger *log.Logger) *Manager {
	m := New(DefaultQueueSize, logger)

	if cfg.RedisURL != "" {
		c, err := redis.NewClient(&redis.Config{URL: cfg.RedisURL, Prefix: cfg.ServiceName, TTL: 10 * cfg.StatsInterval})
		if err != nil {
			m.connectFailed("redis", err)
		} else {
			m.AddSink(c)
			m.AddRecorder(c)
			m.closers = append(m.closers, c.Close)
		}
	}

	if cfg.InfluxURL != "" {
		c, err := influx.NewClient(&influx.Config{
			URL:     cfg.InfluxURL,
			Token:   cfg.InfluxToken,
			Org:     cfg.InfluxOrg,
			Bucket:  cfg.InfluxBucket,
			Service: cfg.ServiceName,
		})
		if err != nil {
			m.connectFailed("influx", err)
		} else {
			m.AddSink(c)
			m.AddRecorder(c)
			m.asyncErrs = c.Errors()
			m.closers = append(m.closers, func() error { c.Close(); return nil })
		}
	}

	if cfg.PostgresURL != "" {
		c, err := postgres.NewClient(&postgres.Config{URL: cfg.PostgresURL})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = c.Migrate(ctx)
			cancel()
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			m.connectFailed("postgres", err)
		} else {
			s := postgres.NewSink(c, cfg.ServiceName)
			m.AddSink(s)
			m.AddRecorder(s)
			m.closers = append(m.closers, c.Close)
		}
	}

	return m
}

func (m *Manager) connectFailed(backend string, err error) {
	err = errors.Wrap(err, errors.ErrorTypeSink, "database.open", "backend unavailable").
		WithContext("backend", backend)
	m.logger.WithError(err).Warn("telemetry backend disabled", "backend", backend)
}

// AddSink adds a snapshot sink
func (m *Manager) AddSink(s stats.Sink) {
	m.sinks = append(m.sinks, s)
}

// AddRecorder adds a share recorder behind its own circuit breaker
func (m *Manager) AddRecorder(r ShareRecorder) {
	b := circuit.New(r.Name()+".shares", circuit.DefaultConfig(), func(name string, from, to circuit.State) {
		m.logger.Info("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	m.recorders = append(m.recorders, recorder{ShareRecorder: r, breaker: b})
}

// Register adds every snapshot sink to r
func (m *Manager) Register(r *stats.Reporter) {
	for _, s := range m.sinks {
		r.AddSink(s)
	}
}

// Sinks returns the snapshot sinks
func (m *Manager) Sinks() []stats.Sink { return m.sinks }

// Enabled reports whether any backend is connected
func (m *Manager) Enabled() bool {
	return len(m.sinks) > 0 || len(m.recorders) > 0
}

// Observe queues rep for recording. It never blocks: when the queue is
// full the report is dropped and counted.
func (m *Manager) Observe(rep submit.Report) {
	if len(m.recorders) == 0 {
		return
	}
	select {
	case m.queue <- rep:
	default:
		if m.dropped.Add(1)%100 == 1 {
			m.logger.Warn("share queue full, dropping reports", "dropped", m.dropped.Load())
		}
	}
}

// Dropped returns the number of reports lost to a full queue
func (m *Manager) Dropped() uint64 { return m.dropped.Load() }

// Run records queued reports until ctx ends
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-m.asyncErrs:
			if !ok {
				m.asyncErrs = nil
				continue
			}
			m.logger.WithError(err).Warn("asynchronous write failed")
		case rep := <-m.queue:
			m.record(ctx, rep)
		}
	}
}

// record hands rep to every recorder; it returns the number of failures
func (m *Manager) record(ctx context.Context, rep submit.Report) int {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	failed := 0
	for _, r := range m.recorders {
		err := r.breaker.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, m.retry, func() error {
				if err := r.RecordShare(ctx, rep); err != nil {
					return errors.Wrap(err, errors.ErrorTypeSink, "record_share", "failed to record share").
						WithContext("recorder", r.Name()).
						WithContext("pool", rep.Pool)
				}
				return nil
			})
		})
		if err != nil {
			failed++
			m.logger.WithError(err).Debug("share not recorded", "recorder", r.Name())
		}
	}
	return failed
}

// Close closes every backend
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}
