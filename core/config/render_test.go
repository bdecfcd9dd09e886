package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMarshalMasksSecretToken(t *testing.T) {
	cfg, err := New(Map{"appName": "svc", "secretToken": "s3cr3t"}, isolated()...)
	require.NoError(t, err)

	data, err := cfg.Marshal(false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, maskedSecret, doc[KeySecretToken])
	assert.Equal(t, "svc", doc[KeyAppName])
	assert.Equal(t, "test-host", doc[KeyHostname])

	data, err = cfg.Marshal(true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "s3cr3t")
}

func TestMarshalWithoutSecretToken(t *testing.T) {
	cfg, err := New(Map{"appName": "svc"}, isolated()...)
	require.NoError(t, err)

	data, err := cfg.Marshal(false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), maskedSecret)
}

func TestTemplateResolves(t *testing.T) {
	data, err := Template("generated")
	require.NoError(t, err)
	assert.NotContains(t, string(data), KeyHostname+":")

	dir := t.TempDir()
	path := writeConfigFile(t, dir, DefaultFileName, string(data))

	cfg, err := New(Map{}, isolated(WithFile(path))...)
	require.NoError(t, err)
	assert.Equal(t, "generated", cfg.AppName())
	assert.Equal(t, "test-host", cfg.String(KeyHostname))

	settings, err := cfg.Settings()
	require.NoError(t, err)
	require.NoError(t, settings.Validate())
	assert.Equal(t, DefaultFlushInterval, settings.FlushInterval)
	assert.Equal(t, DefaultMetricsInterval, settings.MetricsInterval)
}
