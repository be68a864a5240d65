package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"HealthMonitor/pkg/alert"
	"HealthMonitor/pkg/health"
	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

var prodThreshold = threshold.Config{AlertThreshold: 80, Mode: threshold.ModeProduction}

// recorder is a synchronous Publisher that keeps events in arrival order.
type recorder struct {
	mu       sync.Mutex
	order    []alert.EventType
	verdicts []threshold.Verdict
	warnings []predictive.Estimate
	errs     []error
}

func (r *recorder) Verdict(v threshold.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, alert.EventVerdict)
	r.verdicts = append(r.verdicts, v)
}

func (r *recorder) PredictiveWarning(e predictive.Estimate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, alert.EventPredictiveWarning)
	r.warnings = append(r.warnings, e)
}

func (r *recorder) SampleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, alert.EventSampleError)
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (verdicts, warnings, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verdicts), len(r.warnings), len(r.errs)
}

func fixedSource(snap health.Snapshot, calls *atomic.Int32) health.Source {
	return health.SourceFunc{SourceName: "fixed", Fn: func(context.Context) (health.Snapshot, error) {
		if calls != nil {
			calls.Add(1)
		}
		return snap, nil
	}}
}

func newSampler(t *testing.T, interval time.Duration, pub Publisher, sources ...health.Source) *Sampler {
	t.Helper()
	s, err := New(Options{Interval: interval, Threshold: prodThreshold, Logger: zaptest.NewLogger(t)}, pub, sources...)
	require.NoError(t, err)
	return s
}

func TestSampler_TicksAtStartAndEachInterval(t *testing.T) {
	var calls atomic.Int32
	rec := &recorder{}
	s := newSampler(t, 100*time.Millisecond, rec, fixedSource(health.Snapshot{CPUPercent: 10}, &calls))

	require.NoError(t, s.Start())
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(3), s.Ticks())
	v, _, _ := rec.counts()
	assert.Equal(t, 3, v)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no ticks after Stop returns")
}

func TestSampler_WarningVerdict(t *testing.T) {
	rec := &recorder{}
	s := newSampler(t, time.Hour, rec, fixedSource(health.Snapshot{CPUPercent: 85, MemoryPercent: 10, DiskPercent: 5}, nil))

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { v, _, _ := rec.counts(); return v == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	v := rec.verdicts[0]
	assert.Equal(t, threshold.StatusWarning, v.Status)
	assert.Equal(t, []health.Metric{health.MetricCPU}, v.Breached)
	assert.Equal(t, 85.0, v.MaxValue)
	assert.Equal(t, "fixed", v.Snapshot.Source, "source name filled in")
	assert.False(t, v.Snapshot.Timestamp.IsZero(), "timestamp filled in")
}

func TestSampler_HangingSourceTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	src := health.SourceFunc{SourceName: "slow", Fn: func(context.Context) (health.Snapshot, error) {
		if calls.Add(1) == 1 {
			<-release // ignores its context
		}
		return health.Snapshot{CPUPercent: 20}, nil
	}}

	rec := &recorder{}
	s := newSampler(t, 100*time.Millisecond, rec, src)
	start := time.Now()
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { v, _, _ := rec.counts(); return v >= 1 }, time.Second, 5*time.Millisecond)
	elapsed := time.Since(start)
	s.Stop()

	_, _, errs := rec.counts()
	require.Equal(t, 1, errs)
	assert.Less(t, elapsed, 190*time.Millisecond, "second tick runs on schedule")

	err := rec.errs[0]
	assert.ErrorIs(t, err, ErrSourceTimeout)
	var se *SampleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindSourceTimeout, se.Kind)
	assert.Equal(t, uint64(1), se.Tick)
	assert.Equal(t, "slow", se.Source)
	assert.Equal(t, []alert.EventType{alert.EventSampleError, alert.EventVerdict}, rec.order[:2])
}

// stallingRecorder blocks the first verdict for stall, overrunning the tick.
type stallingRecorder struct {
	recorder
	stall time.Duration
	once  sync.Once
}

func (r *stallingRecorder) Verdict(v threshold.Verdict) {
	r.once.Do(func() { time.Sleep(r.stall) })
	r.recorder.Verdict(v)
}

func TestSampler_CatchUpTickGetsFullBudget(t *testing.T) {
	src := health.SourceFunc{SourceName: "steady", Fn: func(ctx context.Context) (health.Snapshot, error) {
		select {
		case <-time.After(20 * time.Millisecond):
			return health.Snapshot{CPUPercent: 30}, nil
		case <-ctx.Done():
			return health.Snapshot{}, ctx.Err()
		}
	}}

	rec := &stallingRecorder{stall: 250 * time.Millisecond}
	s := newSampler(t, 100*time.Millisecond, rec, src)
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { v, _, _ := rec.counts(); return v >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	_, _, errs := rec.counts()
	assert.Zero(t, errs, "the tick after an overrun is not born timed out")
}

func TestSampler_SourceFailures(t *testing.T) {
	boom := errors.New("probe unavailable")
	cases := map[string]health.Source{
		"error": health.SourceFunc{SourceName: "err", Fn: func(context.Context) (health.Snapshot, error) {
			return health.Snapshot{}, boom
		}},
		"invalid": health.SourceFunc{SourceName: "bad", Fn: func(context.Context) (health.Snapshot, error) {
			return health.Snapshot{CPUPercent: 140}, nil
		}},
		"panic": health.SourceFunc{SourceName: "panic", Fn: func(context.Context) (health.Snapshot, error) {
			panic("probe crashed")
		}},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			s := newSampler(t, time.Hour, rec, src)
			require.NoError(t, s.Start())
			require.Eventually(t, func() bool { _, _, e := rec.counts(); return e == 1 }, time.Second, 5*time.Millisecond)
			s.Stop()

			v, _, _ := rec.counts()
			assert.Zero(t, v, "no verdict for a failed tick")
			assert.ErrorIs(t, rec.errs[0], ErrSourceFailure)
			assert.Equal(t, "source_failure", alert.KindOf(rec.errs[0]))
			if name == "error" {
				assert.ErrorIs(t, rec.errs[0], boom)
			}
		})
	}
}

func TestSampler_FailingSourceDoesNotBlockOthers(t *testing.T) {
	rec := &recorder{}
	bad := health.SourceFunc{SourceName: "bad", Fn: func(context.Context) (health.Snapshot, error) {
		return health.Snapshot{}, errors.New("down")
	}}
	s := newSampler(t, time.Hour, rec, bad, fixedSource(health.Snapshot{DiskPercent: 50}, nil))

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { v, _, _ := rec.counts(); return v == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, []alert.EventType{alert.EventSampleError, alert.EventVerdict}, rec.order)
}

type countingSink struct {
	mu       sync.Mutex
	verdicts int
}

func (c *countingSink) OnVerdict(context.Context, threshold.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts++
	return nil
}
func (c *countingSink) OnPredictiveWarning(context.Context, predictive.Estimate) error { return nil }
func (c *countingSink) OnSampleError(context.Context, error) error                     { return nil }

type brokenSink struct{}

func (brokenSink) OnVerdict(context.Context, threshold.Verdict) error { return errors.New("smtp down") }
func (brokenSink) OnPredictiveWarning(context.Context, predictive.Estimate) error {
	return errors.New("smtp down")
}
func (brokenSink) OnSampleError(context.Context, error) error { panic("smtp exploded") }

func TestSampler_FailingSinkDoesNotStarveOthers(t *testing.T) {
	d := alert.NewDispatcher(zaptest.NewLogger(t), alert.DispatcherOptions{})
	good := &countingSink{}
	require.NoError(t, d.Register("broken", brokenSink{}))
	require.NoError(t, d.Register("good", good))

	s := newSampler(t, 20*time.Millisecond, d, fixedSource(health.Snapshot{CPUPercent: 95}, nil))
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Ticks() >= 5 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	d.Close()

	ticks := int(s.Ticks())
	assert.GreaterOrEqual(t, ticks, 5)
	assert.Equal(t, ticks, good.verdicts)
	assert.Equal(t, uint64(ticks), d.Failures())
	assert.Equal(t, StateStopped, s.State())
}

func TestSampler_PredictiveWarningPrecedesLiveBreach(t *testing.T) {
	var cpu atomic.Int32
	cpu.Store(40)
	rising := health.SourceFunc{SourceName: "rising", Fn: func(context.Context) (health.Snapshot, error) {
		return health.Snapshot{CPUPercent: float64(cpu.Add(5))}, nil
	}}

	rec := &recorder{}
	s, err := New(Options{
		Interval:   10 * time.Millisecond,
		Threshold:  prodThreshold,
		Predictive: &PredictiveOptions{Capacity: 5, HorizonSeconds: 300},
		Logger:     zaptest.NewLogger(t),
	}, rec, rising)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, v := range rec.verdicts {
			if v.Status == threshold.StatusWarning {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	firstWarning, firstBreach := -1, -1
	vi := 0
	for i, kind := range rec.order {
		switch kind {
		case alert.EventPredictiveWarning:
			if firstWarning < 0 {
				firstWarning = i
			}
		case alert.EventVerdict:
			if firstBreach < 0 && rec.verdicts[vi].Status == threshold.StatusWarning {
				firstBreach = i
			}
			vi++
		}
	}
	require.GreaterOrEqual(t, firstWarning, 0)
	assert.Less(t, firstWarning, firstBreach)
	for _, w := range rec.warnings {
		assert.GreaterOrEqual(t, w.ConfidencePercent, predictive.MinConfidence)
		assert.LessOrEqual(t, w.ConfidencePercent, predictive.MaxConfidence)
		assert.Equal(t, 300, w.HorizonSeconds)
		assert.LessOrEqual(t, w.Samples, 5)
		assert.Equal(t, "rising", w.Source)
	}
}

func TestSampler_Lifecycle(t *testing.T) {
	s := newSampler(t, time.Hour, &recorder{}, fixedSource(health.Snapshot{}, nil))
	assert.Equal(t, StateCreated, s.State())

	require.NoError(t, s.Start())
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	s.Stop()
	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Start(), ErrStopped)

	never := newSampler(t, time.Hour, &recorder{}, fixedSource(health.Snapshot{}, nil))
	never.Stop()
	assert.Equal(t, StateStopped, never.State())
	assert.ErrorIs(t, never.Start(), ErrStopped)
	assert.Equal(t, "stopped", StateStopped.String())
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := newSampler(t, time.Hour, rec, fixedSource(health.Snapshot{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { v, _, _ := rec.counts(); return v == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, s.State())
}

func TestNew_Validation(t *testing.T) {
	src := fixedSource(health.Snapshot{}, nil)
	rec := &recorder{}

	_, err := New(Options{Interval: 0, Threshold: prodThreshold}, rec, src)
	assert.Error(t, err)
	_, err = New(Options{Interval: time.Second, Threshold: threshold.Config{AlertThreshold: 120, Mode: threshold.ModeCustom}}, rec, src)
	assert.Error(t, err)
	_, err = New(Options{Interval: time.Second, Threshold: prodThreshold}, nil, src)
	assert.Error(t, err)
	_, err = New(Options{Interval: time.Second, Threshold: prodThreshold}, rec)
	assert.Error(t, err)
	_, err = New(Options{Interval: time.Second, Threshold: prodThreshold, Predictive: &PredictiveOptions{Capacity: 3}}, rec, src)
	assert.Error(t, err)
}

func TestSampleError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &SampleError{Kind: KindSourceFailure, Source: "prometheus", Tick: 7, Err: cause}

	assert.ErrorIs(t, err, ErrSourceFailure)
	assert.NotErrorIs(t, err, ErrSourceTimeout)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "source_failure", err.ErrorKind())
	assert.Contains(t, err.Error(), `tick 7: source "prometheus"`)
}
