package runtimemetrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepaksharma/apm-agent-core/core/metrics"
)

func TestMeasureGoCollector(t *testing.T) {
	p := New()
	require.NoError(t, p.Measure(context.Background()))

	data := p.Data()
	goroutines, ok := data["golang.goroutines"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, goroutines, float64(1))
	assert.Contains(t, data, "golang.memstats.alloc_bytes")
	assert.NotContains(t, data, "golang.info", "labeled series are skipped")
}

func TestMeasureFiltersSeries(t *testing.T) {
	reg := prometheus.NewRegistry()

	queue := prometheus.NewGauge(prometheus.GaugeOpts{Name: "go_queue_depth"})
	queue.Set(7)
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "go_events_sent_total"})
	sent.Add(3)
	byRoute := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "go_route_inflight"}, []string{"route"})
	byRoute.WithLabelValues("/").Set(1)
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "go_latency_seconds"})
	latency.Observe(0.2)

	reg.MustRegister(queue, sent, byRoute, latency)

	p := NewFromGatherer(reg)
	require.NoError(t, p.Measure(context.Background()))

	assert.Equal(t, metrics.Snapshot{
		"golang.queue.depth":       7,
		"golang.events.sent_total": 3,
	}, p.Data())
}

func TestMeasureHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, New().Measure(ctx), context.Canceled)
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "golang.goroutines", metricName("go_goroutines"))
	assert.Equal(t, "golang.memstats.heap_inuse_bytes", metricName("go_memstats_heap_inuse_bytes"))
	assert.Equal(t, "golang.process.cpu", metricName("process_cpu"))
}

func TestRegister(t *testing.T) {
	c := metrics.NewCollector(nil)
	require.NoError(t, Register(c))

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap, "golang.goroutines")
}
