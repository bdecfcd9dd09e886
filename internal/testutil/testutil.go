// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/atomic"

	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
	"github.com/deepaksharma/apm-agent-core/core/transport"
)

// WriteConfigFile writes content as the default-named config file in dir
// and returns its path.
func WriteConfigFile(t testing.TB, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// IsolatedConfig keeps resolution away from the process-wide search path
// and the real hostname.
func IsolatedConfig() []config.Option {
	return []config.Option{
		config.WithSearchPath(config.NewSearchPath()),
		config.WithHostname(func() (string, error) { return "test-host", nil }),
	}
}

// RecordingConnector keeps every payload it is given. Send fails with
// FailWith while it is set.
type RecordingConnector struct {
	mu       sync.Mutex
	payloads []transport.Payload
	failWith error
	calls    *atomic.Int64
}

// NewRecordingConnector returns an empty RecordingConnector.
func NewRecordingConnector() *RecordingConnector {
	return &RecordingConnector{calls: atomic.NewInt64(0)}
}

// Send records p or returns the configured failure.
func (c *RecordingConnector) Send(_ context.Context, p transport.Payload) error {
	c.calls.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.payloads = append(c.payloads, p)
	return nil
}

// FailWith makes Send return err; nil restores success.
func (c *RecordingConnector) FailWith(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

// Calls returns the number of Send calls, failed ones included.
func (c *RecordingConnector) Calls() int64 {
	return c.calls.Load()
}

// Payloads returns the recorded payloads.
func (c *RecordingConnector) Payloads() []transport.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// SpanNames lists the names of every recorded span in delivery order.
func (c *RecordingConnector) SpanNames() []string {
	var names []string
	for _, p := range c.Payloads() {
		if p.HasTraces() {
			names = append(names, SpanNames(p.Traces)...)
		}
	}
	return names
}

// SpanNames lists span names in td in order.
func SpanNames(td ptrace.Traces) []string {
	var names []string
	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		sss := rss.At(i).ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			spans := sss.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				names = append(names, spans.At(k).Name())
			}
		}
	}
	return names
}

// StaticProvider reports the same snapshot every cycle.
type StaticProvider struct {
	Snapshot metrics.Snapshot
}

// Measure does nothing.
func (p *StaticProvider) Measure(context.Context) error { return nil }

// Data returns the configured snapshot.
func (p *StaticProvider) Data() metrics.Snapshot { return p.Snapshot }

// StaticCollector returns a collector with a single StaticProvider.
func StaticCollector(t testing.TB, s metrics.Snapshot) *metrics.Collector {
	t.Helper()
	c := metrics.NewCollector(nil)
	require.NoError(t, c.Register("static", func() metrics.Provider {
		return &StaticProvider{Snapshot: s}
	}))
	return c
}
