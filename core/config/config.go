// Package config resolves the agent configuration from built-in defaults, an
// optional YAML file and caller supplied overrides.
//
// Sources are merged in that order and later sources replace earlier ones key
// by key. The merged set must name an appName and must not carry keys that are
// supplied through the agent builder instead (httpClient, env, cookies).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"
)

// Well known configuration keys.
const (
	KeyAppName        = "appName"
	KeyAppVersion     = "appVersion"
	KeyServerURL      = "serverUrl"
	KeySecretToken    = "secretToken"
	KeyHostname       = "hostname"
	KeyActive         = "active"
	KeyTimeout        = "timeout"
	KeyEnvironment    = "environment"
	KeyBacktraceLimit = "backtraceLimit"
)

// removedKeys are rejected in every merged source, in this order.
var removedKeys = []string{"httpClient", "env", "cookies"}

// Map is a raw configuration layer.
type Map = map[string]any

// Config is an immutable, validated configuration set.
type Config struct {
	values Map
}

type options struct {
	filePath   string
	searchPath *SearchPath
	hostname   func() (string, error)
	logger     *zap.Logger
}

// Option customizes how New resolves the configuration.
type Option func(*options)

// WithFile loads the given file instead of searching for DefaultFileName.
// The file must exist.
func WithFile(path string) Option {
	return func(o *options) {
		o.filePath = path
	}
}

// WithSearchPath uses sp instead of the process-wide search path.
func WithSearchPath(sp *SearchPath) Option {
	return func(o *options) {
		o.searchPath = sp
	}
}

// WithHostname overrides how the default hostname is determined.
func WithHostname(fn func() (string, error)) Option {
	return func(o *options) {
		o.hostname = fn
	}
}

// WithLogger sets the logger used while resolving.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New resolves overrides against the configuration file and the defaults.
func New(overrides Map, opts ...Option) (*Config, error) {
	o := &options{
		searchPath: processSearchPath,
		hostname:   os.Hostname,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.searchPath == nil {
		o.searchPath = processSearchPath
	}

	fileConfig, err := resolveFile(o.filePath, o.searchPath, o.logger)
	if err != nil {
		return nil, err
	}

	merged, err := merge(defaults(o.hostname, o.logger), fileConfig, overrides)
	if err != nil {
		return nil, err
	}

	if err := validate(merged); err != nil {
		return nil, err
	}

	merged[KeyServerURL] = normalizeServerURL(merged[KeyServerURL])

	values, err := copystructure.Copy(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to copy configuration: %w", err)
	}
	return &Config{values: values.(Map)}, nil
}

// defaults returns the built-in configuration layer.
func defaults(hostname func() (string, error), logger *zap.Logger) Map {
	host, err := hostname()
	if err != nil {
		logger.Debug("Unable to determine hostname", zap.Error(err))
		host = ""
	}

	return Map{
		KeyServerURL:      "http://127.0.0.1:8200",
		KeySecretToken:    nil,
		KeyHostname:       host,
		KeyAppVersion:     "",
		KeyActive:         true,
		KeyTimeout:        10,
		KeyEnvironment:    "development",
		KeyBacktraceLimit: 0,
	}
}

// merge layers the sources with koanf. Top-level keys of a later layer replace
// the earlier value whole, nested maps are not merged.
func merge(layers ...Map) (Map, error) {
	k := koanf.New(".")
	for i, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := k.Load(confmap.Provider(layer, ""), nil, koanf.WithMergeFunc(replaceTopLevel)); err != nil {
			return nil, fmt.Errorf("failed to merge configuration layer %d: %w", i, err)
		}
	}
	return k.Raw(), nil
}

func replaceTopLevel(src, dest map[string]interface{}) error {
	for key, val := range src {
		dest[key] = val
	}
	return nil
}

func validate(merged Map) error {
	name, ok := merged[KeyAppName]
	if !ok || name == nil {
		return &MissingFieldError{Key: KeyAppName}
	}
	if s, isString := name.(string); isString && s == "" {
		return &MissingFieldError{Key: KeyAppName}
	}

	for _, key := range removedKeys {
		if _, present := merged[key]; present {
			return &UnsupportedValueError{Key: key}
		}
	}

	return nil
}

func normalizeServerURL(v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimRight(s, "/")
}

// Get returns a copy of the value stored under key. The boolean is false only
// when the key is absent; present zero values such as false or "" are returned
// as found.
func (c *Config) Get(key string) (any, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return mustCopy(v), true
}

// GetOr returns a copy of the value under key, or def when the key is absent.
func (c *Config) GetOr(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// String returns the value under key as a string. Absent and nil values give "".
func (c *Config) String(key string) string {
	v, ok := c.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the value under key if it is a bool, otherwise def.
func (c *Config) Bool(key string, def bool) bool {
	if b, ok := c.values[key].(bool); ok {
		return b
	}
	return def
}

// Int returns the value under key if it is numeric, otherwise def.
func (c *Config) Int(key string, def int) int {
	switch n := c.values[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// AppName returns the configured application name.
func (c *Config) AppName() string {
	return c.String(KeyAppName)
}

// ServerURL returns the APM server base URL without trailing slashes.
func (c *Config) ServerURL() string {
	return c.String(KeyServerURL)
}

// SecretToken returns the secret token, or "" when none is configured.
func (c *Config) SecretToken() string {
	return c.String(KeySecretToken)
}

// Active reports whether the agent should send data.
func (c *Config) Active() bool {
	return c.Bool(KeyActive, true)
}

// AsMap returns a deep copy of the whole configuration set.
func (c *Config) AsMap() Map {
	return mustCopy(c.values).(Map)
}

// mustCopy copies a value that was already copied once by New, so copying
// it again cannot fail.
func mustCopy(v any) any {
	if v == nil {
		return nil
	}
	out, err := copystructure.Copy(v)
	if err != nil {
		panic(fmt.Sprintf("config: copy of resolved value failed: %v", err))
	}
	return out
}
