package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const maskedSecret = "********"

// Marshal renders the configuration as YAML with keys sorted. A configured
// secret token is masked unless reveal is set.
func (c *Config) Marshal(reveal bool) ([]byte, error) {
	out := c.AsMap()
	if !reveal && c.SecretToken() != "" {
		out[KeySecretToken] = maskedSecret
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return data, nil
}

// Template returns a starter configuration file for appName holding every
// built-in default that makes sense to persist. The result resolves through
// New without further edits.
func Template(appName string) ([]byte, error) {
	doc := defaults(func() (string, error) { return "", nil }, nil)
	delete(doc, KeyHostname)
	doc[KeyAppName] = appName
	doc[KeySecretToken] = ""
	doc[KeyMetricsInterval] = DefaultMetricsInterval
	doc[KeyFlushInterval] = DefaultFlushInterval

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return data, nil
}
