package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deepaksharma/apm-agent-core/core/agent"
	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
	"github.com/deepaksharma/apm-agent-core/internal/testutil"
)

// TestAgentLifecycle_ScheduledFlush lets the cron schedules collect and
// flush without explicit calls
func TestAgentLifecycle_ScheduledFlush(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t, WithConfigData(config.Map{
		config.KeyMetricsInterval: "@every 1s",
		config.KeyFlushInterval:   "@every 1s",
	}))
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(
		WithMetricCollector(testutil.StaticCollector(t, metrics.Snapshot{"workers.busy": 3})),
	))

	ctx := context.Background()
	require.NoError(t, tf.Agent().Start(ctx))
	assert.ErrorIs(t, tf.Agent().Start(ctx), agent.ErrAlreadyStarted)

	_, err = tf.RunTransactions(4, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tf.CountUniqueTraces() == 4 && len(tf.Intake().Metrics()) > 0
	}, 10*time.Second, 100*time.Millisecond, "Scheduled jobs should deliver traces and metrics")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, tf.Shutdown(shutdownCtx))
}

// TestAgentLifecycle_ShutdownFlushes delivers what is queued on Shutdown
func TestAgentLifecycle_ShutdownFlushes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tf, err := NewTestFramework(t)
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	ctx := context.Background()
	require.NoError(t, tf.Agent().Start(ctx))
	_, err = tf.RunTransactions(3, 2)
	require.NoError(t, err)

	require.NoError(t, tf.Shutdown(ctx))
	assert.Equal(t, 3, tf.CountUniqueTraces())
}

// TestAgentLifecycle_ConcurrentLoad runs transactions from many goroutines
// while the scheduler flushes in the background
func TestAgentLifecycle_ConcurrentLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger, err := logConfig.Build()
	require.NoError(t, err, "Failed to build logger")

	tf, err := NewTestFramework(t,
		WithLogger(logger),
		WithConfigData(config.Map{config.KeyFlushInterval: "@every 1s"}),
	)
	require.NoError(t, err)
	defer tf.Cleanup()
	require.NoError(t, tf.Setup(WithMetricCollector(metrics.NewCollector(nil))))

	ctx := context.Background()
	a := tf.Agent()
	require.NoError(t, a.Start(ctx))

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				name := fmt.Sprintf("worker-%d-%d", w, i)
				tx, err := a.StartTransaction(name)
				if !assert.NoError(t, err) {
					return
				}
				a.StartSpan(tx, "query", "db").Finish(time.Now())
				assert.NoError(t, a.StopTransaction(name, "ok"))
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, tf.Shutdown(ctx))
	assert.Equal(t, workers*perWorker, tf.CountUniqueTraces(), "Every transaction is delivered exactly once")
	assert.Len(t, tf.CapturedSpanNames(), workers*perWorker*2)
}
