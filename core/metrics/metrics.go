// Package metrics dispatches periodic measurements to pluggable providers.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrProviderRegistered is returned when a provider name is registered twice.
	ErrProviderRegistered = errors.New("metric provider already registered")

	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("metric provider factory must not be nil")
)

// Snapshot maps metric names to measured values.
type Snapshot map[string]float64

// Provider produces one category of measurements. Measure takes the
// readings and Data returns them.
type Provider interface {
	Measure(ctx context.Context) error
	Data() Snapshot
}

// Factory creates a fresh Provider for one collection cycle.
type Factory func() Provider

type registration struct {
	name    string
	factory Factory
}

// Collector runs every registered provider on each cycle and keeps the
// merged result of the last successful one.
type Collector struct {
	logger *zap.Logger

	mu        sync.Mutex
	providers []registration
	last      Snapshot
}

// NewCollector creates a Collector with no providers.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger: logger,
		last:   Snapshot{},
	}
}

// Register adds a provider factory under name. Providers run in
// registration order.
func (c *Collector) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.providers {
		if r.name == name {
			return fmt.Errorf("%w: %s", ErrProviderRegistered, name)
		}
	}
	c.providers = append(c.providers, registration{name: name, factory: factory})
	return nil
}

// Providers returns the registered provider names in order.
func (c *Collector) Providers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.providers))
	for i, r := range c.providers {
		names[i] = r.name
	}
	return names
}

// Collect runs one cycle. Each provider is built fresh, measured and read;
// keys from later providers replace keys from earlier ones. The first
// failure aborts the cycle and leaves the previous snapshot in place.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	providers := slices.Clone(c.providers)
	c.mu.Unlock()

	merged := Snapshot{}
	for _, r := range providers {
		p := r.factory()
		if p == nil {
			return nil, fmt.Errorf("metric provider %s: %w", r.name, ErrNilFactory)
		}
		if err := p.Measure(ctx); err != nil {
			return nil, fmt.Errorf("metric provider %s failed: %w", r.name, err)
		}
		data := p.Data()
		for k, v := range data {
			merged[k] = v
		}
		c.logger.Debug("Collected metrics",
			zap.String("provider", r.name),
			zap.Int("count", len(data)))
	}

	c.mu.Lock()
	c.last = merged
	c.mu.Unlock()

	return maps.Clone(merged), nil
}

// Data returns a copy of the last collected snapshot.
func (c *Collector) Data() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.last)
}
