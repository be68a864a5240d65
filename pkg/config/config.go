// Package config describes a monitor deployment: sampling cadence, alert
// threshold, forecasting and the sinks to wire.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/sampler"
	"HealthMonitor/pkg/threshold"
)

// Environment selects a preset.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
	Custom      Environment = "custom"
)

// Preset values per environment.
const (
	ProductionIntervalMillis  = 60000
	DevelopmentIntervalMillis = 5000
	DefaultPredictiveWindow   = 300
)

const (
	SourceSynthetic  = "synthetic"
	SourcePrometheus = "prometheus"
)

// Config is the full deployment configuration.
type Config struct {
	Environment             Environment `json:"environment"`
	IntervalMillis          int         `json:"intervalMillis"`
	AlertThresholdPercent   float64     `json:"alertThresholdPercent"`
	PredictiveEnabled       bool        `json:"predictiveEnabled"`
	PredictiveWindowSeconds int         `json:"predictiveWindowSeconds"`

	LogLevel       string `json:"logLevel"`
	LogDevelopment bool   `json:"logDevelopment"`

	Source   SourceConfig   `json:"source"`
	Sinks    SinksConfig    `json:"sinks"`
	Throttle ThrottleConfig `json:"throttle"`
}

// SourceConfig picks the metric source.
type SourceConfig struct {
	Kind          string `json:"kind"`
	Seed          int64  `json:"seed,omitempty"`
	PrometheusURL string `json:"prometheusURL,omitempty"`
}

// SinksConfig enables alert sinks.
type SinksConfig struct {
	Console bool          `json:"console"`
	Redis   *RedisConfig  `json:"redis,omitempty"`
	Metrics MetricsConfig `json:"metrics"`
}

// RedisConfig enables the Redis event publisher.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Channel  string `json:"channel,omitempty"`
	List     string `json:"list,omitempty"`
	History  int64  `json:"history,omitempty"`
}

// MetricsConfig enables the Prometheus sink and its HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// ThrottleConfig enables the adaptive rate throttle.
type ThrottleConfig struct {
	Enabled       bool    `json:"enabled"`
	BaseRate      float64 `json:"baseRate"`
	TargetPercent float64 `json:"targetPercent"`
}

// Preset returns the defaults for env. The custom preset leaves interval and
// threshold unset; they must be provided.
func Preset(env Environment) (Config, error) {
	cfg := Config{
		Environment:             env,
		PredictiveWindowSeconds: DefaultPredictiveWindow,
		LogLevel:                "info",
		Source:                  SourceConfig{Kind: SourceSynthetic},
		Sinks: SinksConfig{
			Console: true,
			Metrics: MetricsConfig{Listen: ":9090"},
		},
		Throttle: ThrottleConfig{BaseRate: 100, TargetPercent: 70},
	}
	switch env {
	case Production:
		cfg.IntervalMillis = ProductionIntervalMillis
		cfg.AlertThresholdPercent = threshold.ProductionThreshold
	case Development:
		cfg.IntervalMillis = DevelopmentIntervalMillis
		cfg.AlertThresholdPercent = threshold.DevelopmentThreshold
		cfg.LogLevel = "debug"
		cfg.LogDevelopment = true
	case Custom:
	default:
		return Config{}, fmt.Errorf("unknown environment %q", env)
	}
	return cfg, nil
}

// envelope captures the fields whose presence matters before the preset is
// applied.
type envelope struct {
	Environment           Environment `json:"environment"`
	IntervalMillis        *int        `json:"intervalMillis"`
	AlertThresholdPercent *float64    `json:"alertThresholdPercent"`
}

// Parse reads a YAML document. Omitted fields take the preset of the
// document's environment (development when unset).
func Parse(data []byte) (Config, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if env.Environment == "" {
		env.Environment = Development
	}
	env.Environment = Environment(strings.ToLower(string(env.Environment)))

	cfg, err := Preset(env.Environment)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Environment = env.Environment

	if cfg.Environment == Custom {
		if env.IntervalMillis == nil {
			return Config{}, errors.New("custom environment requires intervalMillis")
		}
		if env.AlertThresholdPercent == nil {
			return Config{}, errors.New("custom environment requires alertThresholdPercent")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	if c.IntervalMillis <= 0 {
		return fmt.Errorf("intervalMillis must be positive, got %d", c.IntervalMillis)
	}
	if err := c.Threshold().Validate(); err != nil {
		return err
	}
	if c.PredictiveEnabled && c.PredictiveWindowSeconds <= 0 {
		return fmt.Errorf("predictiveWindowSeconds must be positive, got %d", c.PredictiveWindowSeconds)
	}
	switch c.Source.Kind {
	case SourceSynthetic:
	case SourcePrometheus:
		if c.Source.PrometheusURL == "" {
			return errors.New("prometheus source requires prometheusURL")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Sinks.Redis != nil && c.Sinks.Redis.Addr == "" {
		return errors.New("redis sink requires addr")
	}
	if c.Sinks.Metrics.Enabled && c.Sinks.Metrics.Listen == "" {
		return errors.New("metrics sink requires listen address")
	}
	if c.Throttle.Enabled && (c.Throttle.BaseRate <= 0 || c.Throttle.TargetPercent <= 0) {
		return errors.New("throttle requires positive baseRate and targetPercent")
	}
	return nil
}

// Interval returns the sampling interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// Threshold returns the evaluator configuration.
func (c Config) Threshold() threshold.Config {
	return threshold.Config{
		AlertThreshold: c.AlertThresholdPercent,
		Mode:           threshold.Mode(c.Environment),
	}
}

// Predictive returns the forecasting options, or nil when disabled.
func (c Config) Predictive() *sampler.PredictiveOptions {
	if !c.PredictiveEnabled {
		return nil
	}
	return &sampler.PredictiveOptions{
		Capacity:       predictive.CapacityFor(c.PredictiveWindowSeconds, c.Interval()),
		HorizonSeconds: c.PredictiveWindowSeconds,
	}
}
