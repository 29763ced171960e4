package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/opsbotics/opsbot/internal/types"
)

// defaultQueries are the PromQL expressions tried in order when none are
// configured. Different node-exporter setups answer different shapes, so
// the source walks the list until one returns a sane value.
var defaultQueries = []string{
	`100 - (avg by (instance) (irate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`,
	`100 - (avg(irate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`,
	`avg(100 - (avg by (instance) (irate(node_cpu_seconds_total{mode="idle"}[1m])) * 100))`,
}

// PrometheusSource pulls CPU usage from a Prometheus server
type PrometheusSource struct {
	api     promv1.API
	queries []string
}

var _ Source = (*PrometheusSource)(nil)

// NewPrometheusSource creates a source querying the given server. queries may
// be nil to use the built-in CPU usage expressions.
func NewPrometheusSource(serverURL string, queries []string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: serverURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	if len(queries) == 0 {
		queries = defaultQueries
	}
	return &PrometheusSource{
		api:     promv1.NewAPI(client),
		queries: queries,
	}, nil
}

// Sample tries each configured query in order and returns the first value
// that passes the 0-100 sanity check
func (p *PrometheusSource) Sample(ctx context.Context, targetID string) (types.MetricSample, error) {
	var lastErr error = ErrNoData

	for _, query := range p.queries {
		value, ts, err := p.query(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		if value < 0 || value > 100 {
			lastErr = fmt.Errorf("%w: %q returned %v", ErrNoData, query, value)
			continue
		}
		return types.MetricSample{
			Timestamp: ts,
			TargetID:  targetID,
			Value:     value,
		}, nil
	}

	return types.MetricSample{}, fmt.Errorf("all queries failed: %w", lastErr)
}

func (p *PrometheusSource) query(ctx context.Context, query string) (float64, time.Time, error) {
	result, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("prometheus query failed: %w", err)
	}
	if len(warnings) > 0 {
		fmt.Printf("prometheus warnings for %q: %v\n", query, warnings)
	}

	switch v := result.(type) {
	case model.Vector:
		if v.Len() == 0 {
			return 0, time.Time{}, ErrNoData
		}
		return float64(v[0].Value), v[0].Timestamp.Time(), nil
	case *model.Scalar:
		return float64(v.Value), v.Timestamp.Time(), nil
	default:
		return 0, time.Time{}, fmt.Errorf("%w: unexpected result type %T", ErrNoData, result)
	}
}
