package throttle

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

type sensor map[int]float64

func (s sensor) Temperature(worker int) (float64, error) {
	t, ok := s[worker]
	if !ok {
		return 0, errors.New("no sensor")
	}
	return t, nil
}

func newController(limits Limits, tel Telemetry, maxDiffs ...float64) (*Controller, *work.Network, *pool.Registry) {
	cfgs := make([]config.PoolConfig, len(maxDiffs))
	for i, d := range maxDiffs {
		cfgs[i] = config.PoolConfig{URL: "http://pool.example:8332", MaxDiff: d}
	}
	reg := pool.NewRegistry(cfgs, log.Nop())
	net := work.NewNetwork()
	return New(limits, reg, net, tel, log.Nop()), net, reg
}

func TestDifficultyHysteresis(t *testing.T) {
	tests := []struct {
		name   string
		resume float64
		steps  []float64
		want   []bool
	}{
		{
			name:  "no resume value",
			steps: []float64{5, 12, 11, 9.5, 12},
			want:  []bool{true, false, false, true, false},
		},
		{
			name:   "resume value",
			resume: 8,
			steps:  []float64{12, 9.5, 8.5, 7.9, 9},
			want:   []bool{false, false, false, true, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, net, _ := newController(Limits{ResumeDiff: tt.resume}, nil, 10)
			for i, diff := range tt.steps {
				net.SetDifficulty(diff)
				for worker := range 3 {
					if got := c.Allow(worker).Allowed; got != tt.want[i] {
						t.Errorf("step %d diff %v: Allow(%d) = %v, want %v", i, diff, worker, got, tt.want[i])
					}
				}
			}
		})
	}
}

func TestGlobalCeilingFallback(t *testing.T) {
	c, net, _ := newController(Limits{MaxDiff: 10}, nil, 0)
	net.SetDifficulty(12)
	if d := c.Allow(0); d.Allowed || d.Reason != "difficulty" {
		t.Errorf("Allow() = %+v, want throttled on difficulty", d)
	}
	if !c.Throttled(0) {
		t.Error("Throttled(0) = false, want true")
	}
}

func TestRotationArming(t *testing.T) {
	tests := []struct {
		name     string
		resume   float64
		ceilings []float64
		worker   int
		want     bool
	}{
		{"different ceilings", 0, []float64{10, 20}, 0, true},
		{"other worker", 0, []float64{10, 20}, 1, false},
		{"same ceilings", 0, []float64{10, 10}, 0, false},
		{"resume configured", 5, []float64{10, 20}, 0, false},
		{"single pool", 0, []float64{10}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, net, _ := newController(Limits{ResumeDiff: tt.resume}, nil, tt.ceilings...)
			net.SetDifficulty(15)
			d := c.Allow(tt.worker)
			if d.Allowed {
				t.Fatal("Allow() allowed above the ceiling")
			}
			if d.Rotate != tt.want {
				t.Errorf("Allow().Rotate = %v, want %v", d.Rotate, tt.want)
			}
		})
	}
}

func TestNoRotationWhileSwitching(t *testing.T) {
	c, net, reg := newController(Limits{}, nil, 10, 20, 30)
	reg.Switch(1)
	net.SetDifficulty(25)
	if d := c.Allow(0); d.Allowed || d.Rotate {
		t.Errorf("Allow() = %+v, want throttled without rotation", d)
	}
}

func TestHashrateCeiling(t *testing.T) {
	c, net, _ := newController(Limits{MaxRate: 1e12, ResumeRate: 5e11}, nil, 0)
	net.SetMiningInfo(1, 2e12, 100)
	if d := c.Allow(0); d.Allowed || d.Reason != "hashrate" {
		t.Errorf("Allow() = %+v, want throttled on hashrate", d)
	}
	net.SetMiningInfo(1, 8e11, 101)
	if c.Allow(0).Allowed {
		t.Error("Allow() resumed above the resume rate")
	}
	net.SetMiningInfo(1, 4e11, 102)
	if !c.Allow(0).Allowed {
		t.Error("Allow() stayed throttled below the resume rate")
	}
}

func TestTemperature(t *testing.T) {
	s := sensor{0: 90, 1: 60}
	c, _, _ := newController(Limits{MaxTemp: 80, ResumeTemp: 70}, s, 0)

	if c.Allow(0).Allowed {
		t.Error("Allow(0) at 90C = true, want false")
	}
	if !c.Allow(1).Allowed {
		t.Error("Allow(1) at 60C = false, want true")
	}
	// missing readings never throttle
	if !c.Allow(2).Allowed {
		t.Error("Allow(2) without sensor = false, want true")
	}

	s[0] = 75
	if c.Allow(0).Allowed {
		t.Error("Allow(0) at 75C after throttling = true, want false")
	}
	s[0] = 65
	if !c.Allow(0).Allowed {
		t.Error("Allow(0) at 65C = false, want true")
	}
}

func TestTemperatureWithoutSensor(t *testing.T) {
	tests := []struct {
		name     string
		limits   Limits
		tel      Telemetry
		wantWarn bool
		wantOn   bool
	}{
		{"ceiling without sensor", Limits{MaxTemp: 80}, nil, true, false},
		{"ceiling with sensor", Limits{MaxTemp: 80}, sensor{}, false, true},
		{"no ceiling", Limits{}, nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := log.NewWriter(&buf, "minerd", "test", "info", "json")
			reg := pool.NewRegistry([]config.PoolConfig{{URL: "http://pool.example:8332"}}, log.Nop())
			c := New(tt.limits, reg, work.NewNetwork(), tt.tel, logger)
			if got := strings.Contains(buf.String(), "temperature ceiling ignored"); got != tt.wantWarn {
				t.Errorf("warning logged = %v, want %v (%s)", got, tt.wantWarn, buf.String())
			}
			if got := c.SensesTemperature(); got != tt.wantOn {
				t.Errorf("SensesTemperature() = %v, want %v", got, tt.wantOn)
			}
		})
	}
}
