// Package adaptive throttles request admission from health verdicts.
package adaptive

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// Factor bounds. The floor keeps the rate from dropping to zero.
const (
	MaxFactor = 1.0
	MinFactor = 0.1
)

// Throttle manages a dynamic rate limit scaled by a health factor. It is an
// alert sink: live verdicts set the factor, predictive warnings lower it
// ahead of the breach.
//
// A warning's factor is held as a floor for the verdict that follows it and
// released by the first verdict not preceded by a fresh warning.
type Throttle struct {
	mu                sync.RWMutex
	BaseLimit         float64
	TargetPercent     float64
	factor            float64
	predicted         float64
	warned            bool
	underlyingLimiter *rate.Limiter
	logger            *zap.Logger
}

// NewThrottle creates a throttle admitting baseLimit events per second while
// usage stays at or below targetPercent.
func NewThrottle(baseLimit, targetPercent float64, logger *zap.Logger) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(baseLimit)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		BaseLimit:         baseLimit,
		TargetPercent:     targetPercent,
		factor:            MaxFactor,
		predicted:         MaxFactor,
		underlyingLimiter: rate.NewLimiter(rate.Limit(baseLimit), burst),
		logger:            logger.Named("throttle"),
	}
}

// Allow reports whether one event may happen now.
func (t *Throttle) Allow() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.underlyingLimiter.Allow()
}

// Factor returns the current scaling factor.
func (t *Throttle) Factor() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.factor
}

// Limit returns the current events-per-second limit.
func (t *Throttle) Limit() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return float64(t.underlyingLimiter.Limit())
}

// UpdateFactor rescales the underlying limiter.
func (t *Throttle) UpdateFactor(factor float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if factor == t.factor {
		return
	}
	t.logger.Info("adjusting rate",
		zap.Float64("factor", factor),
		zap.Float64("limit", t.BaseLimit*factor))
	t.factor = factor
	t.underlyingLimiter.SetLimit(rate.Limit(t.BaseLimit * factor))
}

// OnVerdict sets the factor from the live reading, never above a pending
// predicted factor.
func (t *Throttle) OnVerdict(_ context.Context, v threshold.Verdict) error {
	f := calculateFactor(t.TargetPercent, v.MaxValue)

	t.mu.Lock()
	if t.warned {
		f = math.Min(f, t.predicted)
	} else {
		t.predicted = MaxFactor
	}
	t.warned = false
	t.mu.Unlock()

	t.UpdateFactor(f)
	return nil
}

// OnPredictiveWarning pre-scales to the forecast when it is lower than the
// current factor.
func (t *Throttle) OnPredictiveWarning(_ context.Context, e predictive.Estimate) error {
	f := calculateFactor(t.TargetPercent, e.MaxPredicted())

	t.mu.Lock()
	if !t.warned || f < t.predicted {
		t.predicted = f
	}
	t.warned = true
	lower := f < t.factor
	t.mu.Unlock()

	if lower {
		t.UpdateFactor(f)
	}
	return nil
}

// OnSampleError keeps the current rate.
func (t *Throttle) OnSampleError(context.Context, error) error {
	return nil
}

// calculateFactor determines the throttling factor (0.1 to 1.0): the ratio
// of target usage to observed usage, capped at 1.
func calculateFactor(target, usage float64) float64 {
	if usage <= 0 {
		return MaxFactor
	}
	factor := target / usage
	if factor > MaxFactor {
		return MaxFactor
	}
	if factor < MinFactor {
		return MinFactor
	}
	return factor
}
