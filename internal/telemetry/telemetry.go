// Package telemetry exposes the agent's own counters as OpenTelemetry
// observable instruments.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"
)

// Prefix is shared by every instrument name.
const Prefix = "apm_agent."

// Manager owns the self-telemetry counters of one agent.
type Manager struct {
	TransactionsStarted *atomic.Int64
	TransactionsSent    *atomic.Int64
	DuplicateNames      *atomic.Int64
	ErrorsCaptured      *atomic.Int64
	Flushes             *atomic.Int64
	FlushFailures       *atomic.Int64
	MetricCycles        *atomic.Int64
	MetricFailures      *atomic.Int64
	SpooledBatches      *atomic.Int64
	ReplayedBatches     *atomic.Int64

	// StoreSize reports the live number of tracked transactions
	StoreSize func() int64

	meter        metric.Meter
	registration metric.Registration
}

// NewManager creates a Manager. storeSize may be nil.
func NewManager(meter metric.Meter, storeSize func() int64) *Manager {
	if storeSize == nil {
		storeSize = func() int64 { return 0 }
	}
	return &Manager{
		TransactionsStarted: atomic.NewInt64(0),
		TransactionsSent:    atomic.NewInt64(0),
		DuplicateNames:      atomic.NewInt64(0),
		ErrorsCaptured:      atomic.NewInt64(0),
		Flushes:             atomic.NewInt64(0),
		FlushFailures:       atomic.NewInt64(0),
		MetricCycles:        atomic.NewInt64(0),
		MetricFailures:      atomic.NewInt64(0),
		SpooledBatches:      atomic.NewInt64(0),
		ReplayedBatches:     atomic.NewInt64(0),
		StoreSize:           storeSize,
		meter:               meter,
	}
}

type counter struct {
	name  string
	desc  string
	unit  string
	value *atomic.Int64
}

func (m *Manager) counters() []counter {
	return []counter{
		{"transactions_started", "Transactions started", "{transactions}", m.TransactionsStarted},
		{"transactions_sent", "Transactions delivered to the intake", "{transactions}", m.TransactionsSent},
		{"duplicate_names", "Transactions rejected for a duplicate name", "{transactions}", m.DuplicateNames},
		{"errors_captured", "Errors captured", "{errors}", m.ErrorsCaptured},
		{"flushes", "Flush attempts", "{flushes}", m.Flushes},
		{"flush_failures", "Flushes that failed to deliver", "{flushes}", m.FlushFailures},
		{"metric_cycles", "Metric collection cycles", "{cycles}", m.MetricCycles},
		{"metric_failures", "Metric collection cycles that failed", "{cycles}", m.MetricFailures},
		{"spooled_batches", "Trace batches written to the spool", "{batches}", m.SpooledBatches},
		{"replayed_batches", "Spooled trace batches delivered", "{batches}", m.ReplayedBatches},
	}
}

// RegisterMetrics creates the observable instruments and a single callback
// reporting all of them.
func (m *Manager) RegisterMetrics() error {
	counters := m.counters()
	observables := make([]metric.Observable, 0, len(counters)+1)
	instruments := make([]metric.Int64ObservableCounter, 0, len(counters))

	for _, c := range counters {
		inst, err := m.meter.Int64ObservableCounter(
			Prefix+c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return fmt.Errorf("failed to register %s counter: %w", c.name, err)
		}
		instruments = append(instruments, inst)
		observables = append(observables, inst)
	}

	storeSize, err := m.meter.Int64ObservableGauge(
		Prefix+"store_size",
		metric.WithDescription("Transactions currently tracked"),
		metric.WithUnit("{transactions}"),
	)
	if err != nil {
		return fmt.Errorf("failed to register store size gauge: %w", err)
	}
	observables = append(observables, storeSize)

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for i, c := range counters {
			o.ObserveInt64(instruments[i], c.value.Load())
		}
		o.ObserveInt64(storeSize, m.StoreSize())
		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("failed to register telemetry callback: %w", err)
	}
	m.registration = reg
	return nil
}

// Unregister removes the callback registered by RegisterMetrics.
func (m *Manager) Unregister() error {
	if m.registration == nil {
		return nil
	}
	err := m.registration.Unregister()
	m.registration = nil
	return err
}
