package health

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Metric names a monitored resource.
type Metric string

const (
	MetricCPU    Metric = "cpu"
	MetricMemory Metric = "memory"
	MetricDisk   Metric = "disk"
)

// Metrics lists every monitored resource in reporting order.
var Metrics = []Metric{MetricCPU, MetricMemory, MetricDisk}

// Snapshot is one point-in-time reading produced by a Source.
// Percent fields are in the 0-100 range. Traffic is requests per second.
type Snapshot struct {
	Timestamp     time.Time
	Source        string
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Traffic       float64
}

// Value returns the reading for a single metric.
func (s Snapshot) Value(m Metric) float64 {
	switch m {
	case MetricCPU:
		return s.CPUPercent
	case MetricMemory:
		return s.MemoryPercent
	case MetricDisk:
		return s.DiskPercent
	}
	return 0
}

// Validate rejects readings outside the percent range, NaNs, and negative traffic.
func (s Snapshot) Validate() error {
	for _, m := range Metrics {
		v := s.Value(m)
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("%s reading %v out of range [0,100]", m, v)
		}
	}
	if math.IsNaN(s.Traffic) || s.Traffic < 0 {
		return fmt.Errorf("traffic reading %v is negative", s.Traffic)
	}
	return nil
}

// Source is the interface for any component providing health snapshots.
// Real probes and synthetic generators implement the same contract.
type Source interface {
	// Name identifies the source in logs and sample errors.
	Name() string
	// Sample returns the current snapshot. It should honour ctx cancellation;
	// callers treat a call that outlives ctx as timed out.
	Sample(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a plain function into a named Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) (Snapshot, error)
}

func (f SourceFunc) Name() string { return f.SourceName }

func (f SourceFunc) Sample(ctx context.Context) (Snapshot, error) {
	return f.Fn(ctx)
}

// ClampPercent bounds v to [0,100].
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
