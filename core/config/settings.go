package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
)

// Optional keys read by the agent. They have no built-in default in the
// configuration set; Settings fills in the agent defaults below.
const (
	KeyMetricsInterval = "metricsInterval"
	KeyFlushInterval   = "flushInterval"
	KeySpoolPath       = "spoolPath"

	DefaultMetricsInterval = "@every 30s"
	DefaultFlushInterval   = "@every 10s"
)

// Settings is a typed view of a Config.
type Settings struct {
	// AppName is the service name reported with every event
	AppName string `mapstructure:"appName"`

	// AppVersion is the service version
	AppVersion string `mapstructure:"appVersion"`

	// ServerURL is the APM server base URL
	ServerURL string `mapstructure:"serverUrl"`

	// SecretToken is sent as a bearer token when set
	SecretToken string `mapstructure:"secretToken"`

	// Hostname identifies the host the agent runs on
	Hostname string `mapstructure:"hostname"`

	// Active disables all sending when false
	Active bool `mapstructure:"active"`

	// Timeout is the transport timeout in seconds
	Timeout int `mapstructure:"timeout"`

	// Environment is the deployment environment name
	Environment string `mapstructure:"environment"`

	// BacktraceLimit caps captured stack frames, 0 means unlimited
	BacktraceLimit int `mapstructure:"backtraceLimit"`

	// MetricsInterval is the cron schedule for metric collection
	MetricsInterval string `mapstructure:"metricsInterval"`

	// FlushInterval is the cron schedule for flushing events
	FlushInterval string `mapstructure:"flushInterval"`

	// SpoolPath enables the on-disk spool for undelivered transactions
	SpoolPath string `mapstructure:"spoolPath"`
}

// Settings decodes the configuration set into a Settings value. Values are
// weakly typed, so "10" decodes into Timeout.
func (c *Config) Settings() (Settings, error) {
	s := Settings{
		MetricsInterval: DefaultMetricsInterval,
		FlushInterval:   DefaultFlushInterval,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to create settings decoder: %w", err)
	}

	if err := decoder.Decode(c.values); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}

	return s, nil
}

// TimeoutDuration returns Timeout as a duration.
func (s Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Validate checks the settings for values the agent cannot run with.
func (s Settings) Validate() error {
	if s.AppName == "" {
		return &MissingFieldError{Key: KeyAppName}
	}

	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", s.Timeout)
	}

	if s.BacktraceLimit < 0 {
		return fmt.Errorf("backtraceLimit must not be negative, got %d", s.BacktraceLimit)
	}

	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid serverUrl: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("serverUrl must be an absolute http(s) URL, got %q", s.ServerURL)
	}

	if _, err := cron.ParseStandard(s.MetricsInterval); err != nil {
		return fmt.Errorf("invalid metricsInterval: %w", err)
	}

	if _, err := cron.ParseStandard(s.FlushInterval); err != nil {
		return fmt.Errorf("invalid flushInterval: %w", err)
	}

	return nil
}
