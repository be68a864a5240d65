// Package threshold classifies snapshots against an alert threshold.
package threshold

import (
	"fmt"
	"math"

	"HealthMonitor/pkg/health"
)

// Mode is the deployment profile a threshold was chosen for.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeCustom      Mode = "custom"
)

// Thresholds used by the production and development profiles.
const (
	ProductionThreshold  = 80.0
	DevelopmentThreshold = 90.0
)

// Config is the immutable rule a snapshot is judged against.
type Config struct {
	AlertThreshold float64
	Mode           Mode
}

// DefaultFor returns the profile threshold for mode. Custom mode has no
// default and must set AlertThreshold explicitly.
func DefaultFor(mode Mode) (Config, error) {
	switch mode {
	case ModeProduction:
		return Config{AlertThreshold: ProductionThreshold, Mode: mode}, nil
	case ModeDevelopment:
		return Config{AlertThreshold: DevelopmentThreshold, Mode: mode}, nil
	case ModeCustom:
		return Config{}, fmt.Errorf("mode %q has no default threshold", mode)
	}
	return Config{}, fmt.Errorf("unknown mode %q", mode)
}

// Validate checks the threshold range and mode.
func (c Config) Validate() error {
	if math.IsNaN(c.AlertThreshold) || c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("alert threshold %v out of range [0,100]", c.AlertThreshold)
	}
	switch c.Mode {
	case ModeProduction, ModeDevelopment, ModeCustom:
		return nil
	}
	return fmt.Errorf("unknown mode %q", c.Mode)
}

// Status is the health classification of a single snapshot.
type Status string

const (
	StatusHealthy Status = "HEALTHY"
	StatusWarning Status = "WARNING"
)

// Verdict is the result of evaluating one snapshot.
type Verdict struct {
	Status    Status
	Breached  []health.Metric
	MaxValue  float64
	Threshold float64
	Snapshot  health.Snapshot
}

// Breaches reports whether m individually exceeded the threshold.
func (v Verdict) Breaches(m health.Metric) bool {
	for _, b := range v.Breached {
		if b == m {
			return true
		}
	}
	return false
}

// Evaluate classifies s against cfg. A snapshot is WARNING only when its
// highest reading is strictly above the threshold; a tie is HEALTHY.
func Evaluate(s health.Snapshot, cfg Config) Verdict {
	v := Verdict{
		Status:    StatusHealthy,
		MaxValue:  math.Max(s.CPUPercent, math.Max(s.MemoryPercent, s.DiskPercent)),
		Threshold: cfg.AlertThreshold,
		Snapshot:  s,
	}
	for _, m := range health.Metrics {
		if s.Value(m) > cfg.AlertThreshold {
			v.Breached = append(v.Breached, m)
		}
	}
	if v.MaxValue > cfg.AlertThreshold {
		v.Status = StatusWarning
	}
	return v
}
