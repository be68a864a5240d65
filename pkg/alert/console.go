package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// ConsoleSink writes one line per event to an io.Writer.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsoleSink writes to out, or stdout when out is nil.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out, now: time.Now}
}

func (c *ConsoleSink) OnVerdict(_ context.Context, v threshold.Verdict) error {
	s := v.Snapshot
	line := fmt.Sprintf("[%s] %s status=%s cpu=%.2f%% memory=%.2f%% disk=%.2f%% max=%.2f%% threshold=%.0f%%",
		s.Timestamp.UTC().Format(time.RFC3339), s.Source, v.Status,
		s.CPUPercent, s.MemoryPercent, s.DiskPercent, v.MaxValue, v.Threshold)
	if len(v.Breached) > 0 {
		names := make([]string, len(v.Breached))
		for i, m := range v.Breached {
			names[i] = string(m)
		}
		line += " breached=" + strings.Join(names, ",")
	}
	return c.write(line)
}

func (c *ConsoleSink) OnPredictiveWarning(_ context.Context, e predictive.Estimate) error {
	return c.write(fmt.Sprintf("[%s] %s PREDICTIVE WARNING horizon=%ds cpu=%.2f%% memory=%.2f%% disk=%.2f%% traffic=%.0f req/s confidence=%.2f%%",
		e.GeneratedAt.UTC().Format(time.RFC3339), e.Source, e.HorizonSeconds,
		e.PredictedCPU, e.PredictedMemory, e.PredictedDisk, e.PredictedTraffic, e.ConfidencePercent))
}

func (c *ConsoleSink) OnSampleError(_ context.Context, err error) error {
	return c.write(fmt.Sprintf("[%s] SAMPLE ERROR kind=%s: %v",
		c.now().UTC().Format(time.RFC3339), KindOf(err), err))
}

func (c *ConsoleSink) write(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, line)
	return err
}
