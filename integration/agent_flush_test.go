package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepaksharma/apm-agent-core/core/agent"
	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
	"github.com/deepaksharma/apm-agent-core/internal/testutil"
)

// TestAgentFlush_BasicOperation sends stopped transactions and a metric
// snapshot to the intake in one flush
func TestAgentFlush_BasicOperation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t, WithConfigData(config.Map{
		config.KeySecretToken: "s3cr3t",
		config.KeyEnvironment: "staging",
	}))
	require.NoError(t, err, "Failed to create test framework")
	defer tf.Cleanup()

	err = tf.Setup(
		WithMetricCollector(testutil.StaticCollector(t, metrics.Snapshot{"queue.depth": 7})),
		WithTags(map[string]string{"team": "core"}),
	)
	require.NoError(t, err, "Failed to setup agent")

	ctx := context.Background()
	names, err := tf.RunTransactions(5, 2)
	require.NoError(t, err)
	require.NoError(t, tf.Agent().CollectMetrics(ctx))

	require.NoError(t, tf.Flush(ctx))

	assert.Equal(t, 5, tf.CountUniqueTraces(), "One trace per transaction")
	captured := tf.CapturedSpanNames()
	assert.Len(t, captured, 15, "Root span plus two child spans per transaction")
	for _, name := range names {
		assert.Contains(t, captured, name)
	}
	assert.True(t, tf.Agent().TransactionStore().IsEmpty(), "Delivered transactions leave the store")

	traces := tf.Intake().Traces()
	require.Len(t, traces, 1)
	attrs := traces[0].ResourceSpans().At(0).Resource().Attributes()
	svc, ok := attrs.Get(agent.AttrServiceName)
	require.True(t, ok)
	assert.Equal(t, "integration", svc.Str())
	env, ok := attrs.Get(agent.AttrEnvironment)
	require.True(t, ok)
	assert.Equal(t, "staging", env.Str())
	tag, ok := attrs.Get("labels.team")
	require.True(t, ok)
	assert.Equal(t, "core", tag.Str())

	exported := tf.Intake().Metrics()
	require.Len(t, exported, 1)
	assert.Equal(t, 1, exported[0].MetricCount())

	for _, h := range tf.Intake().AuthHeaders() {
		assert.Equal(t, "Bearer s3cr3t", h)
	}

	require.NoError(t, tf.Shutdown(ctx))
}

// TestAgentFlush_OrphanErrors delivers errors captured outside any
// transaction as their own traces
func TestAgentFlush_OrphanErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t)
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	a := tf.Agent()
	a.CaptureError(errors.New("disk full"), nil)
	a.CaptureError(errors.New("disk still full"), nil)

	ctx := context.Background()
	require.NoError(t, tf.Flush(ctx))
	assert.Equal(t, 2, tf.CountUniqueTraces())

	require.NoError(t, tf.Flush(ctx))
	assert.Len(t, tf.Intake().Traces(), 1, "Errors are sent once")
	require.NoError(t, tf.Shutdown(ctx))
}

// TestAgentFlush_Inactive sends nothing when the agent is switched off
func TestAgentFlush_Inactive(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t, WithConfigData(config.Map{config.KeyActive: false}))
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	_, err = tf.RunTransactions(3, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tf.Flush(ctx))
	require.NoError(t, tf.Shutdown(ctx))
	assert.Zero(t, tf.Intake().Hits())
}

// TestAgentFlush_RejectedWithoutSpool keeps transactions queued until the
// intake accepts them
func TestAgentFlush_RejectedWithoutSpool(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t)
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	_, err = tf.RunTransactions(3, 0)
	require.NoError(t, err)

	ctx := context.Background()
	tf.Intake().SetStatus(http.StatusForbidden)
	require.Error(t, tf.Flush(ctx))
	assert.Equal(t, 3, tf.Agent().TransactionStore().Len())

	tf.Intake().SetStatus(http.StatusOK)
	require.NoError(t, tf.Flush(ctx))
	assert.Equal(t, 3, tf.CountUniqueTraces())
	assert.True(t, tf.Agent().TransactionStore().IsEmpty())
	require.NoError(t, tf.Shutdown(ctx))
}
