// Package integration provides a framework for end-to-end testing of the
// agent against a fake intake.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/deepaksharma/apm-agent-core/core/agent"
	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
)

// TestOption defines functional options for configuring the test framework
type TestOption func(*TestFramework)

// AgentOption adjusts the builder before the agent is built
type AgentOption func(*agent.Builder)

// TestFramework runs an agent against a FakeIntake
type TestFramework struct {
	logger         *zap.Logger
	dataDir        string
	cleanupDataDir bool
	useSpool       bool
	configData     config.Map
	searchPath     *config.SearchPath

	intake *FakeIntake
	agent  *agent.Agent

	started int
}

// WithDataDir specifies a custom data directory for the test
func WithDataDir(dir string) TestOption {
	return func(tf *TestFramework) {
		tf.dataDir = dir
		tf.cleanupDataDir = false
	}
}

// WithSpool makes the agent spool failed sends under the data directory
func WithSpool() TestOption {
	return func(tf *TestFramework) {
		tf.useSpool = true
	}
}

// WithLogger specifies a custom logger for the test
func WithLogger(logger *zap.Logger) TestOption {
	return func(tf *TestFramework) {
		tf.logger = logger
	}
}

// WithConfigData adds raw configuration overrides
func WithConfigData(data config.Map) TestOption {
	return func(tf *TestFramework) {
		for k, v := range data {
			tf.configData[k] = v
		}
	}
}

// WithSearchPath resolves config files from sp instead of an empty path
func WithSearchPath(sp *config.SearchPath) TestOption {
	return func(tf *TestFramework) {
		tf.searchPath = sp
	}
}

// WithMetricCollector replaces the default host and runtime collector
func WithMetricCollector(c *metrics.Collector) AgentOption {
	return func(b *agent.Builder) {
		b.WithMetricCollector(c)
	}
}

// WithTags sets shared tags
func WithTags(tags map[string]string) AgentOption {
	return func(b *agent.Builder) {
		b.WithTagData(tags)
	}
}

// NewTestFramework creates a new test framework with the given options
func NewTestFramework(t zaptest.TestingT, options ...TestOption) (*TestFramework, error) {
	tf := &TestFramework{
		logger:         zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel)),
		cleanupDataDir: true,
		configData:     config.Map{config.KeyAppName: "integration"},
		searchPath:     config.NewSearchPath(),
	}

	for _, opt := range options {
		opt(tf)
	}

	if tf.dataDir == "" {
		var err error
		tf.dataDir, err = os.MkdirTemp("", "apm-agent-test")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
	}

	tf.intake = NewFakeIntake(tf.logger.Named("intake"))
	return tf, nil
}

// Setup builds the agent pointed at the intake
func (tf *TestFramework) Setup(options ...AgentOption) error {
	data := config.Map{}
	for k, v := range tf.configData {
		data[k] = v
	}
	data[config.KeyServerURL] = tf.intake.URL()
	if tf.useSpool {
		data[config.KeySpoolPath] = tf.SpoolPath()
	}

	b := agent.NewBuilder().
		WithConfigData(data).
		WithConfigOptions(config.WithSearchPath(tf.searchPath)).
		WithLogger(tf.logger.Named("agent"))
	for _, opt := range options {
		opt(b)
	}

	a, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	tf.agent = a

	tf.logger.Info("Agent ready", zap.String("intake", tf.intake.URL()), zap.Bool("spool", tf.useSpool))
	return nil
}

// Agent returns the agent built by Setup
func (tf *TestFramework) Agent() *agent.Agent { return tf.agent }

// Intake returns the fake intake
func (tf *TestFramework) Intake() *FakeIntake { return tf.intake }

// SpoolPath returns where the spool lives when WithSpool is used
func (tf *TestFramework) SpoolPath() string {
	return filepath.Join(tf.dataDir, "spool.db")
}

// RunTransactions starts count transactions with spansPerTx finished spans
// each and stops them. Names continue from the previous call.
func (tf *TestFramework) RunTransactions(count, spansPerTx int) ([]string, error) {
	if tf.agent == nil {
		return nil, fmt.Errorf("agent not built, call Setup first")
	}

	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("tx-%d", tf.started)
		tf.started++

		tx, err := tf.agent.StartTransaction(name)
		if err != nil {
			return names, err
		}
		for j := 0; j < spansPerTx; j++ {
			tf.agent.StartSpan(tx, fmt.Sprintf("%s-span-%d", name, j), "db").Finish(tx.Start())
		}
		if err := tf.agent.StopTransaction(name, "HTTP 2xx"); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Flush flushes the agent once
func (tf *TestFramework) Flush(ctx context.Context) error {
	if tf.agent == nil {
		return fmt.Errorf("agent not built, call Setup first")
	}
	return tf.agent.Flush(ctx)
}

// Shutdown shuts the agent down
func (tf *TestFramework) Shutdown(ctx context.Context) error {
	if tf.agent == nil {
		return nil
	}

	err := tf.agent.Shutdown(ctx)
	tf.agent = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown agent: %w", err)
	}

	tf.logger.Info("Agent shutdown", zap.Int64("intake_requests", tf.intake.Hits()))
	return nil
}

// Cleanup stops the intake and removes the data directory
func (tf *TestFramework) Cleanup() error {
	tf.intake.Close()

	if tf.cleanupDataDir && tf.dataDir != "" {
		if err := os.RemoveAll(tf.dataDir); err != nil {
			return fmt.Errorf("failed to remove data directory: %w", err)
		}
	}
	return nil
}

// Reset shuts the agent down and forgets what the intake received
func (tf *TestFramework) Reset(ctx context.Context) error {
	if err := tf.Shutdown(ctx); err != nil {
		return err
	}
	tf.intake.Reset()
	tf.intake.SetStatus(200)
	tf.started = 0
	return nil
}

// CapturedSpanNames lists the names of every span the intake accepted
func (tf *TestFramework) CapturedSpanNames() []string {
	var names []string
	for _, td := range tf.intake.Traces() {
		names = append(names, spanNames(td)...)
	}
	return names
}

// CountUniqueTraces counts unique trace ids across accepted exports
func (tf *TestFramework) CountUniqueTraces() int {
	unique := make(map[string]struct{})
	for _, td := range tf.intake.Traces() {
		forEachSpan(td, func(span ptrace.Span) {
			unique[span.TraceID().String()] = struct{}{}
		})
	}
	return len(unique)
}

func spanNames(td ptrace.Traces) []string {
	var names []string
	forEachSpan(td, func(span ptrace.Span) {
		names = append(names, span.Name())
	})
	return names
}

func forEachSpan(td ptrace.Traces, fn func(ptrace.Span)) {
	for i := 0; i < td.ResourceSpans().Len(); i++ {
		rs := td.ResourceSpans().At(i)
		for j := 0; j < rs.ScopeSpans().Len(); j++ {
			ss := rs.ScopeSpans().At(j)
			for k := 0; k < ss.Spans().Len(); k++ {
				fn(ss.Spans().At(k))
			}
		}
	}
}
