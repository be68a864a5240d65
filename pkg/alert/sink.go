// Package alert delivers health events to pluggable sinks.
package alert

import (
	"context"
	"errors"
	"fmt"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// Sink receives health events. Implementations may block; the Dispatcher
// calls each sink from its own goroutine in event order.
type Sink interface {
	OnVerdict(ctx context.Context, v threshold.Verdict) error
	OnPredictiveWarning(ctx context.Context, e predictive.Estimate) error
	OnSampleError(ctx context.Context, err error) error
}

var (
	// ErrSinkFailure matches every *SinkError.
	ErrSinkFailure = errors.New("sink failure")
	// ErrQueueFull is the cause recorded when a sink falls too far behind.
	ErrQueueFull = errors.New("sink queue full, event dropped")
)

// SinkError reports that one sink failed to handle one event.
type SinkError struct {
	Sink  string
	Event EventType
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %q failed on %s: %v", e.Sink, e.Event, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSinkFailure }

func (e *SinkError) ErrorKind() string { return "sink_failure" }

// Classified is implemented by errors that carry a classification, such as
// sampling errors. Sinks use it to label what went wrong.
type Classified interface {
	ErrorKind() string
}

// KindOf returns the classification of err, or "unknown".
func KindOf(err error) string {
	var k Classified
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return "unknown"
}
