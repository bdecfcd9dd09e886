package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/deepaksharma/apm-agent-core/core/config"
	"github.com/deepaksharma/apm-agent-core/core/contexts"
	"github.com/deepaksharma/apm-agent-core/core/events"
	"github.com/deepaksharma/apm-agent-core/core/metrics"
	"github.com/deepaksharma/apm-agent-core/core/metrics/hostmetrics"
	"github.com/deepaksharma/apm-agent-core/core/metrics/runtimemetrics"
	"github.com/deepaksharma/apm-agent-core/core/spool"
	"github.com/deepaksharma/apm-agent-core/core/store"
	"github.com/deepaksharma/apm-agent-core/core/transport"
	"github.com/deepaksharma/apm-agent-core/internal/telemetry"
)

// DefaultAppName is used when a Builder is given no configuration at all.
const DefaultAppName = "APM Agent"

// Builder collects the pieces of an Agent. Setters only record their
// argument; defaults are filled in by Build.
type Builder struct {
	configData    config.Map
	hasConfigData bool
	config        *config.Config
	configOptions []config.Option

	user    map[string]any
	custom  map[string]any
	tags    map[string]string
	env     map[string]any
	cookies map[string]string

	factory   events.Factory
	store     *store.TransactionsStore
	collector *metrics.Collector
	spool     *spool.Spool

	httpClient transport.HTTPClient
	requests   transport.RequestFactory
	streams    transport.StreamFactory
	connector  transport.Connector

	logger        *zap.Logger
	meterProvider metric.MeterProvider
	now           func() time.Time
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfigData resolves configuration from raw overrides at Build time.
// It replaces a configuration set earlier with WithConfig; the last of the
// two calls wins.
func (b *Builder) WithConfigData(data config.Map) *Builder {
	b.configData = data
	b.hasConfigData = true
	b.config = nil
	return b
}

// WithConfig uses an already resolved configuration. It replaces data set
// earlier with WithConfigData; the last of the two calls wins.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	b.configData = nil
	b.hasConfigData = false
	return b
}

// WithConfigOptions passes options to configuration resolution.
func (b *Builder) WithConfigOptions(opts ...config.Option) *Builder {
	b.configOptions = append(b.configOptions, opts...)
	return b
}

// WithUserContextData sets the user context bucket.
func (b *Builder) WithUserContextData(data map[string]any) *Builder {
	b.user = data
	return b
}

// WithCustomContextData sets the custom context bucket.
func (b *Builder) WithCustomContextData(data map[string]any) *Builder {
	b.custom = data
	return b
}

// WithTagData sets the tags bucket.
func (b *Builder) WithTagData(data map[string]string) *Builder {
	b.tags = data
	return b
}

// WithEnvData sets the env bucket.
func (b *Builder) WithEnvData(data map[string]any) *Builder {
	b.env = data
	return b
}

// WithCookieData sets the cookies bucket.
func (b *Builder) WithCookieData(data map[string]string) *Builder {
	b.cookies = data
	return b
}

// WithEventFactory replaces the default event factory.
func (b *Builder) WithEventFactory(f events.Factory) *Builder {
	b.factory = f
	return b
}

// WithTransactionStore replaces the default empty store.
func (b *Builder) WithTransactionStore(s *store.TransactionsStore) *Builder {
	b.store = s
	return b
}

// WithHTTPClient sets the client used by the default connector.
func (b *Builder) WithHTTPClient(c transport.HTTPClient) *Builder {
	b.httpClient = c
	return b
}

// WithRequestFactory sets the request factory used by the default connector.
func (b *Builder) WithRequestFactory(f transport.RequestFactory) *Builder {
	b.requests = f
	return b
}

// WithStreamFactory sets the body stream factory used by the default
// connector.
func (b *Builder) WithStreamFactory(f transport.StreamFactory) *Builder {
	b.streams = f
	return b
}

// WithConnector replaces the HTTP connector entirely. HTTP collaborators
// are ignored when set.
func (b *Builder) WithConnector(c transport.Connector) *Builder {
	b.connector = c
	return b
}

// WithMetricCollector replaces the default collector.
func (b *Builder) WithMetricCollector(c *metrics.Collector) *Builder {
	b.collector = c
	return b
}

// WithSpool uses an opened spool instead of the spoolPath setting. The
// agent closes it on Shutdown.
func (b *Builder) WithSpool(s *spool.Spool) *Builder {
	b.spool = s
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMeterProvider sets where self telemetry is reported.
func (b *Builder) WithMeterProvider(mp metric.MeterProvider) *Builder {
	b.meterProvider = mp
	return b
}

// WithClock replaces time.Now for transaction end times and metric
// timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build assembles the Agent.
func (b *Builder) Build() (*Agent, error) {
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := b.resolveConfig(logger)
	if err != nil {
		return nil, err
	}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	connector := b.connector
	if connector == nil {
		connector, err = transport.NewHTTPConnector(transport.HTTPSettings{
			ServerURL:   cfg.ServerURL(),
			SecretToken: cfg.SecretToken(),
			Client:      b.httpClient,
			Requests:    b.requests,
			Streams:     b.streams,
			Timeout:     settings.TimeoutDuration(),
			Logger:      logger.Named("transport"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connector: %w", err)
		}
	}

	shared, err := contexts.New(contexts.Fragments{
		User:    b.user,
		Custom:  b.custom,
		Tags:    b.tags,
		Env:     b.env,
		Cookies: b.cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build shared context: %w", err)
	}

	factory := b.factory
	if factory == nil {
		factory = events.NewDefaultFactory(events.WithBacktraceLimit(settings.BacktraceLimit))
	}

	transactions := b.store
	if transactions == nil {
		transactions = store.New()
	}

	collector := b.collector
	if collector == nil {
		collector, err = defaultCollector(logger.Named("metrics"))
		if err != nil {
			return nil, err
		}
	}

	sp := b.spool
	if sp == nil && settings.SpoolPath != "" {
		sp, err = spool.Open(settings.SpoolPath, logger.Named("spool"))
		if err != nil {
			return nil, err
		}
	}

	mp := b.meterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	a := &Agent{
		id:        uuid.NewString(),
		config:    cfg,
		settings:  settings,
		contexts:  shared,
		connector: connector,
		factory:   factory,
		store:     transactions,
		collector: collector,
		spool:     sp,
		logger:    logger,
		now:       now,
	}
	a.telemetry = telemetry.NewManager(mp.Meter(events.ScopeName), func() int64 {
		return int64(transactions.Len())
	})

	logger.Debug("Agent built",
		zap.String("agent_id", a.id),
		zap.String("server_url", cfg.ServerURL()),
		zap.Strings("metric_providers", collector.Providers()),
		zap.Bool("spool", sp != nil))
	return a, nil
}

func (b *Builder) resolveConfig(logger *zap.Logger) (*config.Config, error) {
	if b.config != nil {
		return b.config, nil
	}

	data := config.Map{config.KeyAppName: DefaultAppName}
	if b.hasConfigData {
		data = b.configData
	}

	opts := append([]config.Option{config.WithLogger(logger.Named("config"))}, b.configOptions...)
	cfg, err := config.New(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}
	return cfg, nil
}

func defaultCollector(logger *zap.Logger) (*metrics.Collector, error) {
	c := metrics.NewCollector(logger)
	if err := hostmetrics.Register(c); err != nil {
		return nil, err
	}
	if err := runtimemetrics.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Create builds an Agent from raw configuration in one call.
func Create(data config.Map, opts ...config.Option) (*Agent, error) {
	return NewBuilder().WithConfigData(data).WithConfigOptions(opts...).Build()
}
