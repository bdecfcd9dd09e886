// Package agent wires configuration, shared context, transport, event
// creation, transaction storage and metric collection into one Agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/contexts"
	"github.com/deepaksharma/apm-agent-core/core/events"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
	"github.com/deepaksharma/apm-agent-core/core/spool"
	"github.com/deepaksharma/apm-agent-core/core/store"
	"github.com/deepaksharma/apm-agent-core/core/transport"
	"github.com/deepaksharma/apm-agent-core/internal/telemetry"
)

var (
	// ErrUnknownTransaction is returned when stopping a transaction that was
	// never started.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("agent already started")
)

// Resource attribute keys.
const (
	AttrServiceName       = "service.name"
	AttrServiceVersion    = "service.version"
	AttrServiceInstanceID = "service.instance.id"
	AttrEnvironment       = "deployment.environment"
	AttrHostName          = "host.name"
)

// Agent owns the collaborators assembled by a Builder.
type Agent struct {
	id        string
	config    *config.Config
	settings  config.Settings
	contexts  *contexts.Collection
	connector transport.Connector
	factory   events.Factory
	store     *store.TransactionsStore
	collector *metrics.Collector
	spool     *spool.Spool
	telemetry *telemetry.Manager
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	orphans []*events.Error
	pending metrics.Snapshot

	// flushMu serializes flushes so spool replay and store cleanup see a
	// consistent view
	flushMu sync.Mutex

	lifecycleMu sync.Mutex
	scheduler   *cron.Cron
	cancel      context.CancelFunc
}

// ID returns the agent instance id.
func (a *Agent) ID() string { return a.id }

// Config returns the resolved configuration.
func (a *Agent) Config() *config.Config { return a.config }

// Settings returns the typed view of the configuration.
func (a *Agent) Settings() config.Settings { return a.settings }

// SharedContext returns the shared context collection.
func (a *Agent) SharedContext() *contexts.Collection { return a.contexts }

// Connector returns the transport connector.
func (a *Agent) Connector() transport.Connector { return a.connector }

// EventFactory returns the event factory.
func (a *Agent) EventFactory() events.Factory { return a.factory }

// TransactionStore returns the transaction store.
func (a *Agent) TransactionStore() *store.TransactionsStore { return a.store }

// MetricCollector returns the metric collector.
func (a *Agent) MetricCollector() *metrics.Collector { return a.collector }

// Spool returns the spool, nil when spooling is disabled.
func (a *Agent) Spool() *spool.Spool { return a.spool }

// Telemetry returns the agent's self-telemetry counters.
func (a *Agent) Telemetry() *telemetry.Manager { return a.telemetry }

// StartTransaction creates a transaction and registers it under name.
func (a *Agent) StartTransaction(name string) (*events.Transaction, error) {
	tx := a.factory.NewTransaction(name)
	if err := a.store.Register(tx); err != nil {
		if errors.Is(err, store.ErrDuplicateTransactionName) {
			a.telemetry.DuplicateNames.Inc()
		}
		return nil, err
	}
	a.telemetry.TransactionsStarted.Inc()
	return tx, nil
}

// GetTransaction returns the transaction registered under name.
func (a *Agent) GetTransaction(name string) (*events.Transaction, bool) {
	return a.store.Fetch(name)
}

// StopTransaction ends the named transaction. It is sent on the next flush.
func (a *Agent) StopTransaction(name, result string) error {
	tx, ok := a.store.Fetch(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTransaction, name)
	}
	tx.Stop(a.now(), result)
	return nil
}

// StartSpan starts a span inside tx. With a nil tx the span is detached and
// never sent.
func (a *Agent) StartSpan(tx *events.Transaction, name, kind string) *events.Span {
	return a.factory.NewSpan(tx, name, kind)
}

// CaptureError records err. With a nil tx the error is sent on its own.
// A nil err is ignored and gives nil.
func (a *Agent) CaptureError(err error, tx *events.Transaction) *events.Error {
	if err == nil {
		return nil
	}
	e := a.factory.NewError(err, tx)
	if e == nil {
		return nil
	}
	if tx == nil {
		a.mu.Lock()
		a.orphans = append(a.orphans, e)
		a.mu.Unlock()
	}
	a.telemetry.ErrorsCaptured.Inc()
	return e
}

// CollectMetrics runs one collection cycle. The snapshot is sent with the
// next flush; a failed cycle leaves the previous pending snapshot alone.
func (a *Agent) CollectMetrics(ctx context.Context) error {
	a.telemetry.MetricCycles.Inc()

	snap, err := a.collector.Collect(ctx)
	if err != nil {
		a.telemetry.MetricFailures.Inc()
		return fmt.Errorf("failed to collect metrics: %w", err)
	}

	a.mu.Lock()
	a.pending = snap
	a.mu.Unlock()
	return nil
}

// Flush replays spooled batches, then sends stopped transactions, errors
// captured outside transactions and the pending metric snapshot. An
// inactive agent sends nothing.
//
// Delivered transactions are removed from the store. When the traces got
// through but the metrics did not, only the metric snapshot stays pending.
// When the traces fail and a spool is configured they are spooled and
// removed; otherwise they stay queued for the next flush.
func (a *Agent) Flush(ctx context.Context) error {
	if !a.settings.Active {
		a.logger.Debug("Agent inactive, skipping flush")
		return nil
	}

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.telemetry.Flushes.Inc()

	if err := a.replay(ctx); err != nil {
		a.telemetry.FlushFailures.Inc()
		return err
	}

	stopped, orphans, snap := a.takeQueued()
	payload := a.buildPayload(stopped, orphans, snap)
	if payload.IsEmpty() {
		return nil
	}

	if err := a.connector.Send(ctx, payload); err != nil {
		a.telemetry.FlushFailures.Inc()
		if payload.HasTraces() && transport.TracesDelivered(err) {
			a.release(stopped, len(orphans), false)
			a.telemetry.TransactionsSent.Add(int64(len(stopped)))
			a.logger.Warn("Metrics not delivered, keeping snapshot pending",
				zap.Int("transactions", len(stopped)),
				zap.Error(err))
			return fmt.Errorf("failed to send payload: %w", err)
		}
		if a.spool != nil && payload.HasTraces() {
			if spoolErr := a.spool.Put(payload.Traces); spoolErr != nil {
				return multierr.Append(fmt.Errorf("failed to send payload: %w", err), spoolErr)
			}
			a.telemetry.SpooledBatches.Inc()
			a.release(stopped, len(orphans), false)
			a.logger.Warn("Payload spooled after send failure",
				zap.Int("transactions", len(stopped)),
				zap.Error(err))
		}
		return fmt.Errorf("failed to send payload: %w", err)
	}

	a.release(stopped, len(orphans), snap != nil)
	a.telemetry.TransactionsSent.Add(int64(len(stopped)))
	a.logger.Debug("Flushed payload",
		zap.Int("transactions", len(stopped)),
		zap.Int("errors", len(orphans)),
		zap.Int("metrics", len(snap)))
	return nil
}

func (a *Agent) replay(ctx context.Context) error {
	if a.spool == nil {
		return nil
	}

	n, err := a.spool.Drain(func(td ptrace.Traces) error {
		return a.connector.Send(ctx, transport.Payload{Traces: td})
	})
	a.telemetry.ReplayedBatches.Add(int64(n))
	if err != nil {
		return fmt.Errorf("failed to replay spooled traces: %w", err)
	}
	if n > 0 {
		a.logger.Info("Replayed spooled traces", zap.Int("batches", n))
	}
	return nil
}

func (a *Agent) takeQueued() ([]*events.Transaction, []*events.Error, metrics.Snapshot) {
	var stopped []*events.Transaction
	for _, tx := range a.store.Serialize() {
		if tx.Stopped() {
			stopped = append(stopped, tx)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	orphans := make([]*events.Error, len(a.orphans))
	copy(orphans, a.orphans)
	return stopped, orphans, a.pending
}

// release drops data that left the agent. Errors are only ever appended, so
// the first n are the ones that were sent.
func (a *Agent) release(stopped []*events.Transaction, n int, clearMetrics bool) {
	for _, tx := range stopped {
		a.store.Delete(tx.Name())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.orphans = a.orphans[n:]
	if clearMetrics {
		a.pending = nil
	}
}

func (a *Agent) buildPayload(stopped []*events.Transaction, orphans []*events.Error, snap metrics.Snapshot) transport.Payload {
	payload := transport.NewPayload()

	if len(stopped) > 0 || len(orphans) > 0 {
		batch := events.NewBatch(a.stampResource, a.settings.AppVersion)
		for _, tx := range stopped {
			batch.AddTransaction(tx)
		}
		for _, e := range orphans {
			batch.AddError(e)
		}
		payload.Traces = batch.Traces()
	}

	if len(snap) > 0 {
		payload.Metrics = metrics.ToMetrics(snap, a.now(), a.stampResource)
	}
	return payload
}

func (a *Agent) stampResource(r pcommon.Resource) {
	attrs := r.Attributes()
	a.contexts.Stamp(attrs)

	attrs.PutStr(AttrServiceName, a.settings.AppName)
	if a.settings.AppVersion != "" {
		attrs.PutStr(AttrServiceVersion, a.settings.AppVersion)
	}
	attrs.PutStr(AttrServiceInstanceID, a.id)
	if a.settings.Environment != "" {
		attrs.PutStr(AttrEnvironment, a.settings.Environment)
	}
	if a.settings.Hostname != "" {
		attrs.PutStr(AttrHostName, a.settings.Hostname)
	}
}

// Start registers self telemetry and schedules metric collection and
// flushing on the configured cron schedules.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.scheduler != nil {
		return ErrAlreadyStarted
	}

	a.logger.Info("Starting APM agent",
		zap.String("app_name", a.settings.AppName),
		zap.String("agent_id", a.id),
		zap.Bool("active", a.settings.Active))

	if err := a.telemetry.RegisterMetrics(); err != nil {
		a.logger.Error("Failed to register telemetry", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	scheduler := cron.New()

	_, err := scheduler.AddFunc(a.settings.MetricsInterval, func() {
		if err := a.CollectMetrics(runCtx); err != nil {
			a.logger.Error("Metric collection failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid metrics schedule %q: %w", a.settings.MetricsInterval, err)
	}

	_, err = scheduler.AddFunc(a.settings.FlushInterval, func() {
		if err := a.Flush(runCtx); err != nil {
			a.logger.Error("Flush failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid flush schedule %q: %w", a.settings.FlushInterval, err)
	}

	scheduler.Start()
	a.scheduler = scheduler
	a.cancel = cancel
	return nil
}

// Shutdown stops the schedules, waits for running jobs, flushes once more
// and releases the spool. It is safe to call without Start.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.logger.Info("Shutting down APM agent", zap.String("agent_id", a.id))

	var errs error
	if a.scheduler != nil {
		stopped := a.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err()))
		}
		a.cancel()
		a.scheduler = nil
	}

	if err := a.Flush(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("final flush: %w", err))
	}

	a.flushMu.Lock()
	if a.spool != nil {
		if err := a.spool.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("closing spool: %w", err))
		}
		a.spool = nil
	}
	a.flushMu.Unlock()

	if err := a.telemetry.Unregister(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("unregistering telemetry: %w", err))
	}

	return errs
}
