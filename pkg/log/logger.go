// Package log provides structured logging for the gominer client.
// It wraps the standard library's slog package with mining-specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logger wraps slog.Logger with service identity and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWriter(os.Stdout, service, version, level, format)
}

// NewWriter creates a logger writing to w
func NewWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return NewWriter(io.Discard, "test", "test", "error", "text")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Service returns the service name the logger was built with
func (l *Logger) Service() string { return l.service }

// Version returns the version the logger was built with
func (l *Logger) Version() string { return l.version }

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithPool returns a logger tagged with a pool index and url
func (l *Logger) WithPool(index int, url string) *Logger {
	return l.WithFields("pool", index, "pool_url", url)
}

// WithWorker returns a logger tagged with a worker index
func (l *Logger) WithWorker(id int) *Logger {
	return l.WithFields("worker", id)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, height uint32) *Logger {
	return l.WithFields("job_id", jobID, "height", height)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(d)/float64(time.Millisecond),
	)
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs Stratum protocol messages (debug level)
func (l *Logger) LogStratumMessage(direction string, message []byte) {
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug("stratum message",
		"direction", direction,
		"message", string(message),
	)
}

// LogHashrate logs a worker hashrate sample
func (l *Logger) LogHashrate(worker int, hashrate float64) {
	l.Info("hashrate",
		"worker", worker,
		"hashrate", FormatHashrate(hashrate),
	)
}

// LogShareResult logs the outcome of a submitted share
func (l *Logger) LogShareResult(pool int, jobID string, accepted bool, shareDiff, netDiff float64, reason string) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	l.Info("share result",
		"pool", pool,
		"job_id", jobID,
		"status", status,
		"share_diff", shareDiff,
		"net_diff", netDiff,
		"reason", reason,
	)
}

// LogBlockFound logs when a share meets the network difficulty
func (l *Logger) LogBlockFound(pool int, jobID string, height uint32, shareDiff float64) {
	l.Info("block found",
		"pool", pool,
		"job_id", jobID,
		"height", height,
		"share_diff", shareDiff,
	)
}

// LogPoolSwitch logs a pool change
func (l *Logger) LogPoolSwitch(from, to int, url string, generation uint64) {
	l.Info("pool switch",
		"from", from,
		"to", to,
		"pool_url", url,
		"generation", generation,
	)
}

// FormatHashrate renders a rate in H/s with a metric prefix
func FormatHashrate(rate float64) string {
	units := []string{"H/s", "kH/s", "MH/s", "GH/s", "TH/s", "PH/s", "EH/s"}
	i := 0
	for rate >= 1000 && i < len(units)-1 {
		rate /= 1000
		i++
	}
	return strconv.FormatFloat(rate, 'f', 2, 64) + " " + units[i]
}
