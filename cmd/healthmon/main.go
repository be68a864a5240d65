package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"HealthMonitor/pkg/adaptive"
	"HealthMonitor/pkg/alert"
	"HealthMonitor/pkg/config"
	"HealthMonitor/pkg/health"
	"HealthMonitor/pkg/logging"
	"HealthMonitor/pkg/sampler"
)

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:  "healthmon",
		Usage: "sample system health and alert on threshold breaches",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "env", Usage: "preset: production, development or custom"},
			&cli.DurationFlag{Name: "interval", Usage: "sampling interval, e.g. 5s"},
			&cli.Float64Flag{Name: "threshold", Usage: "alert threshold percent (0-100)"},
			&cli.BoolFlag{Name: "predictive", Usage: "enable predictive warnings"},
		},
		Action: action,
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := build(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	return m.run(ctx)
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	if c.IsSet("env") && c.IsSet("config") {
		return config.Config{}, errors.New("--env and --config are mutually exclusive")
	}

	var (
		cfg config.Config
		err error
	)
	switch {
	case c.IsSet("config"):
		cfg, err = config.Load(c.String("config"))
	case c.IsSet("env"):
		env := config.Environment(c.String("env"))
		if env == config.Custom && !(c.IsSet("interval") && c.IsSet("threshold")) {
			return config.Config{}, errors.New("--env custom requires --interval and --threshold")
		}
		cfg, err = config.Preset(env)
	default:
		cfg, err = config.Preset(config.Development)
	}
	if err != nil {
		return config.Config{}, err
	}

	if c.IsSet("interval") {
		cfg.IntervalMillis = int(c.Duration("interval") / time.Millisecond)
	}
	if c.IsSet("threshold") {
		cfg.AlertThresholdPercent = c.Float64("threshold")
	}
	if c.IsSet("predictive") {
		cfg.PredictiveEnabled = c.Bool("predictive")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// monitor is one fully wired sampler with its sinks.
type monitor struct {
	cfg        config.Config
	logger     *zap.Logger
	sampler    *sampler.Sampler
	dispatcher *alert.Dispatcher
	registry   *prometheus.Registry
	throttle   *adaptive.Throttle
	redis      *redis.Client
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (_ *monitor, err error) {
	m := &monitor{
		cfg:        cfg,
		logger:     logger,
		dispatcher: alert.NewDispatcher(logger, alert.DispatcherOptions{}),
		registry:   prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			m.dispatcher.Close()
			if m.redis != nil {
				_ = m.redis.Close()
			}
		}
	}()

	src, err := newSource(cfg.Source, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Sinks.Console {
		if err := m.dispatcher.Register("console", alert.NewConsoleSink(out)); err != nil {
			return nil, err
		}
	}
	if cfg.Sinks.Metrics.Enabled {
		sink, err := alert.NewPrometheusSink(m.registry)
		if err != nil {
			return nil, err
		}
		if err := m.dispatcher.Register("prometheus", sink); err != nil {
			return nil, err
		}
	}
	if rc := cfg.Sinks.Redis; rc != nil {
		client, err := alert.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, err
		}
		m.redis = client
		sink := alert.NewRedisSink(client, alert.RedisOptions{Channel: rc.Channel, List: rc.List, History: rc.History})
		if err := m.dispatcher.Register("redis", sink); err != nil {
			return nil, err
		}
	}
	if cfg.Throttle.Enabled {
		m.throttle = adaptive.NewThrottle(cfg.Throttle.BaseRate, cfg.Throttle.TargetPercent, logger)
		if err := m.dispatcher.Register("throttle", m.throttle); err != nil {
			return nil, err
		}
		factor := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "healthmon_throttle_factor",
			Help: "Current adaptive throttle factor (0.1-1.0)",
		}, m.throttle.Factor)
		if err := m.registry.Register(factor); err != nil {
			return nil, err
		}
	}

	m.sampler, err = sampler.New(sampler.Options{
		Interval:   cfg.Interval(),
		Threshold:  cfg.Threshold(),
		Predictive: cfg.Predictive(),
		Logger:     logger,
	}, m.dispatcher, src)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newSource(sc config.SourceConfig, logger *zap.Logger) (health.Source, error) {
	switch sc.Kind {
	case config.SourcePrometheus:
		src, err := health.NewPrometheusSource(sc.PrometheusURL, health.DefaultQueries(), logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceSynthetic:
		if sc.Seed != 0 {
			return health.NewSyntheticSource(sc.Seed), nil
		}
		return health.NewRandomSource(), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
}

// run blocks until ctx is done, then stops the sampler and drains the sinks.
func (m *monitor) run(ctx context.Context) error {
	m.logger.Info("monitoring",
		zap.String("environment", string(m.cfg.Environment)),
		zap.Duration("interval", m.cfg.Interval()),
		zap.Float64("threshold", m.cfg.AlertThresholdPercent),
		zap.Strings("sinks", m.dispatcher.Sinks()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.sampler.Run(gctx)
	})

	if m.cfg.Sinks.Metrics.Enabled {
		srv := &http.Server{
			Addr:              m.cfg.Sinks.Metrics.Listen,
			Handler:           m.handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	m.close()
	return err
}

func (m *monitor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, m.sampler.State().String())
	})
	return mux
}

func (m *monitor) close() {
	m.sampler.Stop()
	m.dispatcher.Close()
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("closing redis client", zap.Error(err))
		}
	}
}
