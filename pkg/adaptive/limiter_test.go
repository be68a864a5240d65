package adaptive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"HealthMonitor/pkg/health"
	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

func TestCalculateFactor(t *testing.T) {
	assert.Equal(t, 1.0, calculateFactor(70, 50))
	assert.Equal(t, 1.0, calculateFactor(70, 0))
	assert.InDelta(t, 0.7, calculateFactor(70, 100), 1e-9)
	assert.Equal(t, 0.1, calculateFactor(5, 100))
}

func TestThrottle_VerdictsScaleLimit(t *testing.T) {
	th := NewThrottle(100, 70, zaptest.NewLogger(t))
	ctx := context.Background()

	v := threshold.Evaluate(health.Snapshot{CPUPercent: 100}, threshold.Config{AlertThreshold: 80})
	require.NoError(t, th.OnVerdict(ctx, v))
	assert.InDelta(t, 0.7, th.Factor(), 1e-9)
	assert.InDelta(t, 70, th.Limit(), 1e-9)

	v = threshold.Evaluate(health.Snapshot{CPUPercent: 30}, threshold.Config{AlertThreshold: 80})
	require.NoError(t, th.OnVerdict(ctx, v))
	assert.Equal(t, 1.0, th.Factor())
	assert.InDelta(t, 100, th.Limit(), 1e-9)
}

func TestThrottle_PredictiveWarningOnlyLowers(t *testing.T) {
	th := NewThrottle(10, 50, nil)
	ctx := context.Background()

	require.NoError(t, th.OnPredictiveWarning(ctx, predictive.Estimate{PredictedMemory: 100}))
	assert.InDelta(t, 0.5, th.Factor(), 1e-9)

	require.NoError(t, th.OnPredictiveWarning(ctx, predictive.Estimate{PredictedMemory: 60}))
	assert.InDelta(t, 0.5, th.Factor(), 1e-9, "a milder forecast does not relax the throttle")

	require.NoError(t, th.OnSampleError(ctx, errors.New("x")))
	assert.InDelta(t, 0.5, th.Factor(), 1e-9)
}

func TestThrottle_ForecastHoldsThroughSameTickVerdict(t *testing.T) {
	th := NewThrottle(100, 70, zaptest.NewLogger(t))
	ctx := context.Background()
	calm := threshold.Evaluate(health.Snapshot{CPUPercent: 50}, threshold.Config{AlertThreshold: 80})

	require.NoError(t, th.OnPredictiveWarning(ctx, predictive.Estimate{PredictedCPU: 100}))
	require.NoError(t, th.OnVerdict(ctx, calm))
	assert.InDelta(t, 0.7, th.Factor(), 1e-9, "the forecast outlives the verdict of its own tick")
	assert.InDelta(t, 70, th.Limit(), 1e-9)

	hot := threshold.Evaluate(health.Snapshot{CPUPercent: 100}, threshold.Config{AlertThreshold: 80})
	require.NoError(t, th.OnPredictiveWarning(ctx, predictive.Estimate{PredictedCPU: 87.5}))
	require.NoError(t, th.OnVerdict(ctx, hot))
	assert.InDelta(t, 0.7, th.Factor(), 1e-9, "a lower live factor still wins")

	require.NoError(t, th.OnPredictiveWarning(ctx, predictive.Estimate{PredictedCPU: 87.5}))
	require.NoError(t, th.OnVerdict(ctx, calm))
	assert.InDelta(t, 0.8, th.Factor(), 1e-9, "the floor follows the latest forecast")

	require.NoError(t, th.OnVerdict(ctx, calm))
	assert.Equal(t, 1.0, th.Factor(), "a tick without a warning releases the floor")
}

func TestThrottle_AllowHonoursBurst(t *testing.T) {
	th := NewThrottle(2, 70, nil)
	assert.True(t, th.Allow())
	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
}
