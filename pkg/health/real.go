package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

// Default PromQL queries against node_exporter. Utilisation queries return a
// 0-1 ratio; the request-rate query returns requests per second.
const (
	DefaultCPUQuery     = `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	DefaultMemoryQuery  = `1 - sum(node_memory_MemAvailable_bytes) / sum(node_memory_MemTotal_bytes)`
	DefaultDiskQuery    = `1 - sum(node_filesystem_avail_bytes{mountpoint="/"}) / sum(node_filesystem_size_bytes{mountpoint="/"})`
	DefaultTrafficQuery = `sum(rate(http_requests_total[5m]))`
)

// Queries holds the PromQL expression used for each reading. An empty
// Traffic query skips the traffic reading.
type Queries struct {
	CPU     string
	Memory  string
	Disk    string
	Traffic string
}

// DefaultQueries returns the node_exporter query set.
func DefaultQueries() Queries {
	return Queries{
		CPU:     DefaultCPUQuery,
		Memory:  DefaultMemoryQuery,
		Disk:    DefaultDiskQuery,
		Traffic: DefaultTrafficQuery,
	}
}

// queryAPI is the slice of the Prometheus v1 API the source needs.
type queryAPI interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// PrometheusSource implements Source by running instant queries.
type PrometheusSource struct {
	client  queryAPI
	queries Queries
	logger  *zap.Logger
}

// NewPrometheusSource initializes the Prometheus client connection.
func NewPrometheusSource(promURL string, queries Queries, logger *zap.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: promURL,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %w", err)
	}
	return newPrometheusSource(v1.NewAPI(client), queries, logger), nil
}

func newPrometheusSource(client queryAPI, queries Queries, logger *zap.Logger) *PrometheusSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrometheusSource{
		client:  client,
		queries: queries,
		logger:  logger.Named("prometheus-source"),
	}
}

func (p *PrometheusSource) Name() string { return "prometheus" }

// Sample executes the configured queries and converts the results into a Snapshot.
func (p *PrometheusSource) Sample(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	snap := Snapshot{Timestamp: now, Source: p.Name()}

	cpu, err := p.queryScalar(ctx, p.queries.CPU, now)
	if err != nil {
		return Snapshot{}, err
	}
	mem, err := p.queryScalar(ctx, p.queries.Memory, now)
	if err != nil {
		return Snapshot{}, err
	}
	disk, err := p.queryScalar(ctx, p.queries.Disk, now)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CPUPercent = ClampPercent(cpu * 100)
	snap.MemoryPercent = ClampPercent(mem * 100)
	snap.DiskPercent = ClampPercent(disk * 100)

	if p.queries.Traffic != "" {
		traffic, err := p.queryScalar(ctx, p.queries.Traffic, now)
		if err != nil {
			return Snapshot{}, err
		}
		if traffic > 0 {
			snap.Traffic = traffic
		}
	}
	return snap, nil
}

// queryScalar runs one instant query and returns the first sample's value.
// An empty result reads as zero.
func (p *PrometheusSource) queryScalar(ctx context.Context, query string, ts time.Time) (float64, error) {
	result, warnings, err := p.client.Query(ctx, query, ts)
	if err != nil {
		return 0, fmt.Errorf("prometheus query error for %s: %w", query, err)
	}
	if len(warnings) > 0 {
		p.logger.Warn("prometheus query returned warnings",
			zap.String("query", query), zap.Strings("warnings", warnings))
	}

	switch v := result.(type) {
	case model.Vector:
		if len(v) > 0 {
			return float64(v[0].Value), nil
		}
	case *model.Scalar:
		return float64(v.Value), nil
	}
	return 0, nil
}
