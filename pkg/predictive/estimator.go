// Package predictive extrapolates recent snapshots to flag breaches before
// they are observed.
package predictive

import (
	"math"
	"sync"
	"time"

	"HealthMonitor/pkg/health"
)

// Confidence bounds, in percent.
const (
	MinConfidence = 80.0
	MaxConfidence = 100.0
)

// Estimate is a forward-looking prediction derived from the window.
type Estimate struct {
	// Source names the source whose window produced the estimate.
	Source            string
	HorizonSeconds    int
	PredictedCPU      float64
	PredictedMemory   float64
	PredictedDisk     float64
	PredictedTraffic  float64
	ConfidencePercent float64
	Samples           int
	GeneratedAt       time.Time
}

// Value returns the predicted reading for m.
func (e Estimate) Value(m health.Metric) float64 {
	switch m {
	case health.MetricCPU:
		return e.PredictedCPU
	case health.MetricMemory:
		return e.PredictedMemory
	case health.MetricDisk:
		return e.PredictedDisk
	}
	return 0
}

// Breaches lists the predicted metrics strictly above threshold.
func (e Estimate) Breaches(threshold float64) []health.Metric {
	var out []health.Metric
	for _, m := range health.Metrics {
		if e.Value(m) > threshold {
			out = append(out, m)
		}
	}
	return out
}

// MaxPredicted returns the highest predicted percent.
func (e Estimate) MaxPredicted() float64 {
	return math.Max(e.PredictedCPU, math.Max(e.PredictedMemory, e.PredictedDisk))
}

// Estimator keeps a rolling window and fits a least-squares line per metric.
// It is safe for concurrent use.
type Estimator struct {
	mu     sync.Mutex
	window *Window
	now    func() time.Time
}

// NewEstimator creates an estimator holding at most capacity snapshots.
func NewEstimator(capacity int) *Estimator {
	return &Estimator{window: NewWindow(capacity), now: time.Now}
}

// CapacityFor converts a look-back window in seconds into a tick count.
func CapacityFor(windowSeconds int, interval time.Duration) int {
	if interval <= 0 {
		return minWindowCap
	}
	window := time.Duration(windowSeconds) * time.Second
	n := int((window + interval - 1) / interval)
	if n < minWindowCap {
		return minWindowCap
	}
	return n
}

// Observe appends s, evicting the oldest snapshot beyond capacity.
func (e *Estimator) Observe(s health.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Push(s)
}

// Len returns the number of snapshots held.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.Len()
}

// Cap returns the window capacity.
func (e *Estimator) Cap() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.Cap()
}

// Estimate extrapolates horizonSeconds past the newest snapshot.
// Confidence is 80 plus 20 times the mean R² of the percent fits.
func (e *Estimator) Estimate(horizonSeconds int) Estimate {
	e.mu.Lock()
	snaps := e.window.Snapshots()
	e.mu.Unlock()

	est := Estimate{
		HorizonSeconds:    horizonSeconds,
		ConfidencePercent: MinConfidence,
		Samples:           len(snaps),
		GeneratedAt:       e.now(),
	}
	if len(snaps) > 0 {
		est.Source = snaps[len(snaps)-1].Source
	}
	switch len(snaps) {
	case 0:
		return est
	case 1:
		last := snaps[0]
		est.PredictedCPU = last.CPUPercent
		est.PredictedMemory = last.MemoryPercent
		est.PredictedDisk = last.DiskPercent
		est.PredictedTraffic = last.Traffic
		return est
	}

	xs, target := timeline(snaps, horizonSeconds)
	series := func(f func(health.Snapshot) float64) []float64 {
		ys := make([]float64, len(snaps))
		for i, s := range snaps {
			ys[i] = f(s)
		}
		return ys
	}

	cpu := fit(xs, series(func(s health.Snapshot) float64 { return s.CPUPercent }))
	mem := fit(xs, series(func(s health.Snapshot) float64 { return s.MemoryPercent }))
	disk := fit(xs, series(func(s health.Snapshot) float64 { return s.DiskPercent }))
	traffic := fit(xs, series(func(s health.Snapshot) float64 { return s.Traffic }))

	est.PredictedCPU = health.ClampPercent(cpu.at(target))
	est.PredictedMemory = health.ClampPercent(mem.at(target))
	est.PredictedDisk = health.ClampPercent(disk.at(target))
	est.PredictedTraffic = math.Max(0, traffic.at(target))
	est.ConfidencePercent = clampConfidence(MinConfidence + (MaxConfidence-MinConfidence)*(cpu.r2+mem.r2+disk.r2)/3)
	return est
}

// timeline returns sample offsets in seconds from the oldest snapshot and the
// offset to predict for. Snapshots without distinct timestamps are spaced one
// second apart.
func timeline(snaps []health.Snapshot, horizonSeconds int) ([]float64, float64) {
	xs := make([]float64, len(snaps))
	first := snaps[0].Timestamp
	for i, s := range snaps {
		xs[i] = s.Timestamp.Sub(first).Seconds()
	}
	if xs[len(xs)-1] <= 0 {
		for i := range xs {
			xs[i] = float64(i)
		}
	}
	return xs, xs[len(xs)-1] + float64(horizonSeconds)
}

type line struct {
	intercept float64
	slope     float64
	r2        float64
}

func (l line) at(x float64) float64 { return l.intercept + l.slope*x }

// fit computes the ordinary least-squares line through (xs, ys). A flat
// series is a perfect fit.
func fit(xs, ys []float64) line {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return line{intercept: meanY, r2: 1}
	}

	l := line{slope: sxy / sxx}
	l.intercept = meanY - l.slope*meanX
	if syy == 0 {
		l.r2 = 1
		return l
	}
	var ssRes float64
	for i := range xs {
		r := ys[i] - l.at(xs[i])
		ssRes += r * r
	}
	l.r2 = math.Min(1, math.Max(0, 1-ssRes/syy))
	return l
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
