// Package sampler drives metric sources on a fixed interval and routes each
// snapshot through evaluation to the alert sinks.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"HealthMonitor/pkg/health"
	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// State is the sampler lifecycle: Created, then Running, then Stopped.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Publisher receives the events produced by each tick. *alert.Dispatcher
// implements it; calls must not block the tick for long.
type Publisher interface {
	Verdict(v threshold.Verdict)
	PredictiveWarning(e predictive.Estimate)
	SampleError(err error)
}

// PredictiveOptions enables forecasting. Capacity is the window size in
// ticks; HorizonSeconds is how far ahead each estimate looks.
type PredictiveOptions struct {
	Capacity       int
	HorizonSeconds int
}

// Options configures a Sampler.
type Options struct {
	Interval   time.Duration
	Threshold  threshold.Config
	Predictive *PredictiveOptions
	Logger     *zap.Logger
}

// Sampler ticks immediately on Start and then every Interval. Ticks never
// overlap: interval boundaries that pass while a tick is still running are
// collapsed into a single pending tick.
type Sampler struct {
	interval   time.Duration
	threshold  threshold.Config
	horizon    int
	sources    []health.Source
	estimators []*predictive.Estimator
	pub        Publisher
	logger     *zap.Logger
	ticks      atomic.Uint64

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates opts and builds a sampler over sources, polled in the given
// order on every tick.
func New(opts Options, pub Publisher, sources ...health.Source) (*Sampler, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if err := opts.Threshold.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold: %w", err)
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if len(sources) == 0 {
		return nil, errors.New("at least one metric source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Sampler{
		interval:  opts.Interval,
		threshold: opts.Threshold,
		sources:   sources,
		pub:       pub,
		logger:    opts.Logger.Named("sampler"),
	}
	if p := opts.Predictive; p != nil {
		if p.HorizonSeconds <= 0 {
			return nil, fmt.Errorf("predictive horizon must be positive, got %d", p.HorizonSeconds)
		}
		s.horizon = p.HorizonSeconds
		s.estimators = make([]*predictive.Estimator, len(sources))
		for i := range sources {
			s.estimators[i] = predictive.NewEstimator(p.Capacity)
		}
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns the number of ticks started so far.
func (s *Sampler) Ticks() uint64 { return s.ticks.Load() }

// Start runs the first tick immediately and schedules the rest. Starting a
// running sampler returns ErrAlreadyStarted; a stopped one cannot restart.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateRunning
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("sampler started",
		zap.Duration("interval", s.interval),
		zap.Float64("threshold", s.threshold.AlertThreshold),
		zap.String("mode", string(s.threshold.Mode)),
		zap.Int("sources", len(s.sources)),
		zap.Bool("predictive", s.estimators != nil))

	go func() {
		defer close(s.done)
		s.loop(ctx)
	}()
	return nil
}

// Stop halts the schedule. A tick already in progress completes before Stop
// returns; no tick starts afterwards. Stopping twice is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("sampler stopped", zap.Uint64("ticks", s.Ticks()))
}

// Run starts the sampler and stops it when ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Sampler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stop may race with a ready tick; stopping wins.
			if ctx.Err() != nil {
				return
			}
			s.tick()
		}
	}
}

// tick polls every source once. Sources share a deadline one interval after
// the tick begins; a catch-up tick gets a full budget too.
func (s *Sampler) tick() {
	n := s.ticks.Add(1)
	deadline := time.Now().Add(s.interval)

	for i, src := range s.sources {
		snap, err := s.sample(src, n, deadline)
		if err != nil {
			s.logger.Warn("sample failed", zap.Uint64("tick", n), zap.String("source", src.Name()), zap.Error(err))
			s.pub.SampleError(err)
			continue
		}

		if s.estimators != nil {
			est := s.estimators[i]
			est.Observe(snap)
			forecast := est.Estimate(s.horizon)
			if breached := forecast.Breaches(s.threshold.AlertThreshold); len(breached) > 0 {
				s.logger.Debug("predicted breach",
					zap.Uint64("tick", n),
					zap.String("source", src.Name()),
					zap.Float64("max_predicted", forecast.MaxPredicted()),
					zap.Float64("confidence", forecast.ConfidencePercent))
				s.pub.PredictiveWarning(forecast)
			}
		}

		verdict := threshold.Evaluate(snap, s.threshold)
		s.logger.Debug("verdict",
			zap.Uint64("tick", n),
			zap.String("source", src.Name()),
			zap.String("status", string(verdict.Status)),
			zap.Float64("max", verdict.MaxValue))
		s.pub.Verdict(verdict)
	}
}

type sampleResult struct {
	snap health.Snapshot
	err  error
}

// sample calls src and waits at most until deadline. A source that outlives
// the deadline is abandoned; its result is discarded when it returns.
func (s *Sampler) sample(src health.Source, tick uint64, deadline time.Time) (health.Snapshot, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	ch := make(chan sampleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- sampleResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		snap, err := src.Sample(ctx)
		ch <- sampleResult{snap: snap, err: err}
	}()

	fail := func(kind ErrorKind, err error) (health.Snapshot, error) {
		return health.Snapshot{}, &SampleError{Kind: kind, Source: src.Name(), Tick: tick, Err: err}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
				return fail(KindSourceTimeout, r.err)
			}
			return fail(KindSourceFailure, r.err)
		}
		if err := r.snap.Validate(); err != nil {
			return fail(KindSourceFailure, err)
		}
		if r.snap.Timestamp.IsZero() {
			r.snap.Timestamp = time.Now()
		}
		if r.snap.Source == "" {
			r.snap.Source = src.Name()
		}
		return r.snap, nil
	case <-ctx.Done():
		return fail(KindSourceTimeout, ctx.Err())
	}
}
