package sampler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure seen by the sampler.
type ErrorKind string

const (
	KindSourceTimeout ErrorKind = "source_timeout"
	KindSourceFailure ErrorKind = "source_failure"
	KindSinkFailure   ErrorKind = "sink_failure"
)

var (
	ErrSourceTimeout  = errors.New("metric source timed out")
	ErrSourceFailure  = errors.New("metric source failed")
	ErrAlreadyStarted = errors.New("sampler already started")
	ErrStopped        = errors.New("sampler stopped")
)

// SampleError reports a tick that produced no verdict for one source.
type SampleError struct {
	Kind   ErrorKind
	Source string
	Tick   uint64
	Err    error
}

func (e *SampleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tick %d: source %q: %s", e.Tick, e.Source, e.Kind)
	}
	return fmt.Sprintf("tick %d: source %q: %s: %v", e.Tick, e.Source, e.Kind, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *SampleError) Is(target error) bool {
	switch e.Kind {
	case KindSourceTimeout:
		return target == ErrSourceTimeout
	case KindSourceFailure:
		return target == ErrSourceFailure
	}
	return false
}

// ErrorKind lets sinks label the error without importing this package.
func (e *SampleError) ErrorKind() string { return string(e.Kind) }
