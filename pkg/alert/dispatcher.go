package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

const (
	defaultQueueSize   = 64
	defaultSinkTimeout = 10 * time.Second
	errorsBuffer       = 32
)

// DispatcherOptions tunes delivery. Zero values select defaults.
type DispatcherOptions struct {
	// QueueSize bounds the events buffered per sink.
	QueueSize int
	// SinkTimeout bounds a single sink call.
	SinkTimeout time.Duration
	// LogRate and LogBurst limit how often sink failures are logged.
	// Failures over the limit are still counted and published on Errors.
	LogRate  rate.Limit
	LogBurst int
}

type event struct {
	kind     EventType
	verdict  threshold.Verdict
	estimate predictive.Estimate
	err      error
}

type worker struct {
	name  string
	sink  Sink
	queue chan event
}

// Dispatcher fans events out to every registered sink. Each sink has its own
// queue and goroutine, so a slow or failing sink cannot delay the caller or
// the other sinks. Events reach each sink in publish order.
type Dispatcher struct {
	logger      *zap.Logger
	limiter     *rate.Limiter
	queueSize   int
	sinkTimeout time.Duration
	errs        chan error
	failures    atomic.Uint64

	mu      sync.RWMutex
	workers []*worker
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.LogRate == 0 {
		opts.LogRate = rate.Every(time.Second)
	}
	if opts.LogBurst <= 0 {
		opts.LogBurst = 5
	}
	return &Dispatcher{
		logger:      logger.Named("dispatcher"),
		limiter:     rate.NewLimiter(opts.LogRate, opts.LogBurst),
		queueSize:   opts.QueueSize,
		sinkTimeout: opts.SinkTimeout,
		errs:        make(chan error, errorsBuffer),
	}
}

// Register adds a sink under name and starts its delivery goroutine.
func (d *Dispatcher) Register(name string, sink Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("dispatcher closed")
	}
	for _, w := range d.workers {
		if w.name == name {
			return fmt.Errorf("sink %q already registered", name)
		}
	}

	w := &worker{name: name, sink: sink, queue: make(chan event, d.queueSize)}
	d.workers = append(d.workers, w)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.drain(w)
	}()
	return nil
}

// Sinks returns the registered sink names in registration order.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.workers))
	for i, w := range d.workers {
		names[i] = w.name
	}
	return names
}

// Verdict enqueues a verdict for every sink.
func (d *Dispatcher) Verdict(v threshold.Verdict) {
	d.publish(event{kind: EventVerdict, verdict: v})
}

// PredictiveWarning enqueues a predictive warning for every sink.
func (d *Dispatcher) PredictiveWarning(e predictive.Estimate) {
	d.publish(event{kind: EventPredictiveWarning, estimate: e})
}

// SampleError enqueues a sampling error for every sink.
func (d *Dispatcher) SampleError(err error) {
	d.publish(event{kind: EventSampleError, err: err})
}

// Errors returns the process-level channel of sink failures. Failures are
// dropped when nobody reads it.
func (d *Dispatcher) Errors() <-chan error { return d.errs }

// Failures returns the total count of sink failures.
func (d *Dispatcher) Failures() uint64 { return d.failures.Load() }

// Close stops accepting events, waits for queued events to be delivered and
// closes the Errors channel. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	close(d.errs)
}

func (d *Dispatcher) publish(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, w := range d.workers {
		select {
		case w.queue <- ev:
		default:
			d.fail(&SinkError{Sink: w.name, Event: ev.kind, Err: ErrQueueFull})
		}
	}
}

func (d *Dispatcher) drain(w *worker) {
	for ev := range w.queue {
		if err := d.deliver(w.sink, ev); err != nil {
			d.fail(&SinkError{Sink: w.name, Event: ev.kind, Err: err})
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, ev event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	defer cancel()

	switch ev.kind {
	case EventVerdict:
		return sink.OnVerdict(ctx, ev.verdict)
	case EventPredictiveWarning:
		return sink.OnPredictiveWarning(ctx, ev.estimate)
	case EventSampleError:
		return sink.OnSampleError(ctx, ev.err)
	}
	return fmt.Errorf("unknown event %q", ev.kind)
}

func (d *Dispatcher) fail(err *SinkError) {
	d.failures.Add(1)
	if d.limiter.Allow() {
		d.logger.Error("alert sink failed",
			zap.String("sink", err.Sink),
			zap.String("event", string(err.Event)),
			zap.Error(err.Err))
	}
	select {
	case d.errs <- err:
	default:
	}
}
