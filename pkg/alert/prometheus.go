package alert

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"HealthMonitor/pkg/health"
	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

// PrometheusSink exports the latest readings, verdicts and forecasts as
// Prometheus metrics.
type PrometheusSink struct {
	usage            *prometheus.GaugeVec
	maxUsage         *prometheus.GaugeVec
	healthy          *prometheus.GaugeVec
	verdicts         *prometheus.CounterVec
	predicted        *prometheus.GaugeVec
	confidence       *prometheus.GaugeVec
	predictiveAlerts prometheus.Counter
	sampleErrors     *prometheus.CounterVec
}

// NewPrometheusSink creates the collectors and registers them on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	p := &PrometheusSink{
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthmon_usage_percent",
			Help: "Latest sampled resource usage percentage",
		}, []string{"source", "metric"}),
		maxUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthmon_max_usage_percent",
			Help: "Highest resource usage of the latest sample",
		}, []string{"source"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthmon_healthy",
			Help: "1 when the latest verdict was HEALTHY, 0 on WARNING",
		}, []string{"source"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmon_verdicts_total",
			Help: "Verdicts produced, by status",
		}, []string{"status"}),
		predicted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthmon_predicted_usage",
			Help: "Predicted usage at the forecast horizon; traffic is in requests per second",
		}, []string{"source", "metric"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthmon_prediction_confidence_percent",
			Help: "Confidence of the latest predictive warning",
		}, []string{"source"}),
		predictiveAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthmon_predictive_warnings_total",
			Help: "Predictive warnings raised",
		}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmon_sample_errors_total",
			Help: "Failed samples, by error kind",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		p.usage, p.maxUsage, p.healthy, p.verdicts,
		p.predicted, p.confidence, p.predictiveAlerts, p.sampleErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusSink) OnVerdict(_ context.Context, v threshold.Verdict) error {
	s := v.Snapshot
	for _, m := range health.Metrics {
		p.usage.WithLabelValues(s.Source, string(m)).Set(s.Value(m))
	}
	p.maxUsage.WithLabelValues(s.Source).Set(v.MaxValue)
	if v.Status == threshold.StatusHealthy {
		p.healthy.WithLabelValues(s.Source).Set(1)
	} else {
		p.healthy.WithLabelValues(s.Source).Set(0)
	}
	p.verdicts.WithLabelValues(string(v.Status)).Inc()
	return nil
}

func (p *PrometheusSink) OnPredictiveWarning(_ context.Context, e predictive.Estimate) error {
	for _, m := range health.Metrics {
		p.predicted.WithLabelValues(e.Source, string(m)).Set(e.Value(m))
	}
	p.predicted.WithLabelValues(e.Source, "traffic").Set(e.PredictedTraffic)
	p.confidence.WithLabelValues(e.Source).Set(e.ConfidencePercent)
	p.predictiveAlerts.Inc()
	return nil
}

func (p *PrometheusSink) OnSampleError(_ context.Context, err error) error {
	p.sampleErrors.WithLabelValues(KindOf(err)).Inc()
	return nil
}
