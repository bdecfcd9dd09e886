package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/collector/consumer"
)

// ConsumerConnector hands payloads to collector consumers, for embedding the
// agent in a collector pipeline or capturing output in tests. Either
// consumer may be nil, in which case that signal is dropped.
type ConsumerConnector struct {
	traces  consumer.Traces
	metrics consumer.Metrics
}

// NewConsumerConnector creates a ConsumerConnector.
func NewConsumerConnector(traces consumer.Traces, metrics consumer.Metrics) *ConsumerConnector {
	return &ConsumerConnector{traces: traces, metrics: metrics}
}

// Send forwards the payload's signals to their consumers. Failures are
// returned as *SendError.
func (c *ConsumerConnector) Send(ctx context.Context, p Payload) error {
	if c.traces != nil && p.HasTraces() {
		if err := c.traces.ConsumeTraces(ctx, p.Traces); err != nil {
			return &SendError{Signal: SignalTraces, Err: fmt.Errorf("failed to consume traces: %w", err)}
		}
	}
	if c.metrics != nil && p.HasMetrics() {
		if err := c.metrics.ConsumeMetrics(ctx, p.Metrics); err != nil {
			return &SendError{
				Signal:          SignalMetrics,
				TracesDelivered: c.traces != nil && p.HasTraces(),
				Err:             fmt.Errorf("failed to consume metrics: %w", err),
			}
		}
	}
	return nil
}
