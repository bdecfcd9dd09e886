package integration

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepaksharma/apm-agent-core/core/metrics"
)

// TestSpool_ReplayAfterOutage spools traces the intake rejected and
// replays them, oldest first, once it recovers
func TestSpool_ReplayAfterOutage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t, WithSpool())
	require.NoError(t, err, "Failed to create test framework")
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	ctx := context.Background()
	tf.Intake().SetStatus(http.StatusForbidden)

	first, err := tf.RunTransactions(2, 0)
	require.NoError(t, err)
	require.Error(t, tf.Flush(ctx))

	sp := tf.Agent().Spool()
	require.NotNil(t, sp)
	n, err := sp.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, tf.Agent().TransactionStore().IsEmpty(), "Spooled transactions leave the store")

	// replay fails first, so the new batch is neither sent nor spooled
	second, err := tf.RunTransactions(2, 0)
	require.NoError(t, err)
	require.Error(t, tf.Flush(ctx))
	n, err = sp.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, tf.Agent().TransactionStore().Len())

	tf.Intake().SetStatus(http.StatusOK)
	require.NoError(t, tf.Flush(ctx))

	assert.Equal(t, append(first, second...), tf.CapturedSpanNames())
	n, err = sp.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), tf.Agent().Telemetry().ReplayedBatches.Load())
	assert.True(t, tf.Agent().TransactionStore().IsEmpty())

	require.NoError(t, tf.Shutdown(ctx))
}

// TestSpool_SurvivesRestart replays batches spooled by a previous agent
// that used the same spool file
func TestSpool_SurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t, WithSpool())
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	ctx := context.Background()
	tf.Intake().SetStatus(http.StatusForbidden)
	names, err := tf.RunTransactions(3, 1)
	require.NoError(t, err)

	// Shutdown's final flush fails and spools
	assert.Error(t, tf.Shutdown(ctx))
	_, err = os.Stat(tf.SpoolPath())
	require.NoError(t, err, "Spool file should remain after shutdown")

	require.NoError(t, tf.Reset(ctx))
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))
	require.NoError(t, tf.Flush(ctx))

	captured := tf.CapturedSpanNames()
	for _, name := range names {
		assert.Contains(t, captured, name)
	}
	assert.Equal(t, 3, tf.CountUniqueTraces())
	require.NoError(t, tf.Shutdown(ctx))
}
