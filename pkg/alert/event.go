package alert

import (
	"time"

	"github.com/google/uuid"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// EventType names the three event categories a sink receives.
type EventType string

const (
	EventVerdict           EventType = "verdict"
	EventPredictiveWarning EventType = "predictive_warning"
	EventSampleError       EventType = "sample_error"
)

// Event is the serialized form of a health event, as published to
// external channels.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Time      time.Time    `json:"time"`
	Source    string       `json:"source,omitempty"`
	Status    string       `json:"status,omitempty"`
	Breached  []string     `json:"breached,omitempty"`
	MaxValue  float64      `json:"max_value,omitempty"`
	Threshold float64      `json:"threshold,omitempty"`
	Readings  *Readings    `json:"readings,omitempty"`
	Forecast  *ForecastDTO `json:"forecast,omitempty"`
	Kind      string       `json:"kind,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Readings carries the raw snapshot values of a verdict.
type Readings struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Disk    float64 `json:"disk"`
	Traffic float64 `json:"traffic"`
}

// ForecastDTO carries an estimate.
type ForecastDTO struct {
	HorizonSeconds int     `json:"horizon_seconds"`
	CPU            float64 `json:"cpu"`
	Memory         float64 `json:"memory"`
	Disk           float64 `json:"disk"`
	Traffic        float64 `json:"traffic"`
	Confidence     float64 `json:"confidence"`
	Samples        int     `json:"samples"`
}

// VerdictEvent converts a verdict.
func VerdictEvent(v threshold.Verdict) Event {
	breached := make([]string, 0, len(v.Breached))
	for _, m := range v.Breached {
		breached = append(breached, string(m))
	}
	s := v.Snapshot
	return Event{
		ID:        uuid.NewString(),
		Type:      EventVerdict,
		Time:      s.Timestamp,
		Source:    s.Source,
		Status:    string(v.Status),
		Breached:  breached,
		MaxValue:  v.MaxValue,
		Threshold: v.Threshold,
		Readings: &Readings{
			CPU:     s.CPUPercent,
			Memory:  s.MemoryPercent,
			Disk:    s.DiskPercent,
			Traffic: s.Traffic,
		},
	}
}

// PredictiveEvent converts an estimate.
func PredictiveEvent(e predictive.Estimate) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   EventPredictiveWarning,
		Time:   e.GeneratedAt,
		Source: e.Source,
		Forecast: &ForecastDTO{
			HorizonSeconds: e.HorizonSeconds,
			CPU:            e.PredictedCPU,
			Memory:         e.PredictedMemory,
			Disk:           e.PredictedDisk,
			Traffic:        e.PredictedTraffic,
			Confidence:     e.ConfidencePercent,
			Samples:        e.Samples,
		},
	}
}

// ErrorEvent converts a sampling error.
func ErrorEvent(err error, now time.Time) Event {
	return Event{
		ID:    uuid.NewString(),
		Type:  EventSampleError,
		Time:  now,
		Kind:  KindOf(err),
		Error: err.Error(),
	}
}
