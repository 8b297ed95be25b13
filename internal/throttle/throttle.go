// Package throttle decides whether a worker may mine, from the device
// temperature and the network difficulty and hashrate, against the
// ceilings of the current pool.
package throttle

import (
	"sync"

	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// Telemetry reads device sensors
type Telemetry interface {
	Temperature(worker int) (float64, error)
}

// Limits are the global ceilings and resume thresholds. Zero disables a
// ceiling; a zero resume threshold resumes as soon as the metric is back
// under its ceiling.
type Limits struct {
	MaxTemp    float64
	ResumeTemp float64
	MaxDiff    float64
	ResumeDiff float64
	MaxRate    float64
	ResumeRate float64
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed bool
	// Rotate asks the worker to switch to the next pool, whose ceiling
	// differs from the current one.
	Rotate bool
	Reason string
}

// Controller gates workers. Each worker keeps its own throttled flag
// for hysteresis and so the first transition alone is logged.
type Controller struct {
	limits    Limits
	registry  *pool.Registry
	network   *work.Network
	telemetry Telemetry
	logger    *log.Logger

	mu        sync.Mutex
	throttled map[int]bool
}

// New creates a controller. telemetry may be nil when no sensor exists.
func New(limits Limits, registry *pool.Registry, network *work.Network, telemetry Telemetry, logger *log.Logger) *Controller {
	c := &Controller{
		limits:    limits,
		registry:  registry,
		network:   network,
		telemetry: telemetry,
		logger:    logger.WithComponent("throttle"),
		throttled: make(map[int]bool),
	}
	if limits.MaxTemp > 0 && telemetry == nil {
		c.logger.Warn("temperature ceiling ignored, no sensor available", "max_temp", limits.MaxTemp)
	}
	return c
}

// SensesTemperature reports whether the temperature ceiling is enforced
func (c *Controller) SensesTemperature() bool {
	return c.limits.MaxTemp > 0 && c.telemetry != nil
}

// Throttled reports the last decision recorded for worker
func (c *Controller) Throttled(worker int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttled[worker]
}

// over applies one ceiling with its resume threshold
func over(value, ceiling, resume float64, was bool) bool {
	if ceiling <= 0 {
		return false
	}
	if value > ceiling {
		return true
	}
	return resume > 0 && was && value > resume
}

// Allow evaluates worker against the current pool
func (c *Controller) Allow(worker int) Decision {
	c.mu.Lock()
	was := c.throttled[worker]
	c.mu.Unlock()

	cur := c.registry.CurrentInfo()
	maxDiff := cur.Config.MaxDiff
	if maxDiff == 0 {
		maxDiff = c.limits.MaxDiff
	}
	maxRate := cur.Config.MaxRate
	if maxRate == 0 {
		maxRate = c.limits.MaxRate
	}

	multi := c.registry.Len() > 1
	canRotate := worker == 0 && multi && !c.registry.Switching()
	var next pool.Info
	if multi {
		if n := c.registry.NextValid(); n >= 0 {
			next = c.registry.Get(n)
		}
	}

	d := Decision{Allowed: true}
	block := func(reason string) {
		if d.Allowed {
			d.Reason = reason
		}
		d.Allowed = false
	}

	if c.limits.MaxTemp > 0 && c.telemetry != nil {
		if temp, err := c.telemetry.Temperature(worker); err == nil {
			if over(temp, c.limits.MaxTemp, c.limits.ResumeTemp, was) {
				block("temperature")
				if !was {
					c.logger.Info("temperature too high, waiting", "worker", worker, "temp", temp)
				}
			}
		} else {
			c.logger.Debug("temperature unavailable", "worker", worker, "error", err)
		}
	}

	net := c.network.Snapshot()
	if over(net.Difficulty, maxDiff, c.limits.ResumeDiff, was) {
		block("difficulty")
		if net.Difficulty > maxDiff && canRotate && next.Config.MaxDiff != maxDiff && c.limits.ResumeDiff <= 0 {
			d.Rotate = true
		}
		if worker == 0 && !was {
			c.logger.Info("network difficulty too high, waiting", "difficulty", net.Difficulty, "max", maxDiff)
		}
	}

	if over(net.Hashrate, maxRate, c.limits.ResumeRate, was) {
		block("hashrate")
		if net.Hashrate > maxRate && canRotate && next.Config.MaxRate != maxRate && c.limits.ResumeRate <= 0 {
			d.Rotate = true
		}
		if worker == 0 && !was {
			c.logger.Info("network hashrate too high, waiting",
				"hashrate", log.FormatHashrate(net.Hashrate), "max", log.FormatHashrate(maxRate))
		}
	}

	c.mu.Lock()
	c.throttled[worker] = !d.Allowed
	c.mu.Unlock()
	return d
}
