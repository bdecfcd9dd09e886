// Package runtimemetrics reports Go runtime statistics gathered through the
// Prometheus Go collector.
package runtimemetrics

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"

	"github.com/deepaksharma/apm-agent-core/core/metrics"
)

// Name is the registration name of the provider.
const Name = "runtimemetrics"

// Prefix is prepended to every reported metric name.
const Prefix = "golang."

// Provider gathers from a private registry holding only the Go collector.
// Labeled series and histograms are skipped.
type Provider struct {
	gatherer prometheus.Gatherer
	data     metrics.Snapshot
}

// New returns a Provider with its own registry.
func New() metrics.Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &Provider{gatherer: reg}
}

// NewFromGatherer reads from an existing gatherer instead.
func NewFromGatherer(g prometheus.Gatherer) *Provider {
	return &Provider{gatherer: g}
}

// Register adds the provider to c under Name.
func Register(c *metrics.Collector) error {
	return c.Register(Name, New)
}

// Measure gathers once and flattens unlabeled gauges, counters and
// untyped series.
func (p *Provider) Measure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	families, err := p.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather runtime metrics: %w", err)
	}

	data := metrics.Snapshot{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) > 0 {
				continue
			}
			v, ok := value(mf.GetType(), m)
			if !ok {
				continue
			}
			data[metricName(mf.GetName())] = v
		}
	}

	p.data = data
	return nil
}

// Data returns the last reading.
func (p *Provider) Data() metrics.Snapshot {
	return maps.Clone(p.data)
}

func value(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	}
	return 0, false
}

// metricName turns go_memstats_alloc_bytes into golang.memstats.alloc_bytes.
func metricName(name string) string {
	name = strings.TrimPrefix(name, "go_")
	if i := strings.IndexByte(name, '_'); i > 0 {
		name = name[:i] + "." + name[i+1:]
	}
	return Prefix + name
}
