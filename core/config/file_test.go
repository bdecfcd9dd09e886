package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadsConfigurationFromSpecifiedFile(t *testing.T) {
	t.Setenv("APM_TEST_APP_NAME", "Test Application")

	dir := t.TempDir()
	path := writeConfigFile(t, dir, "custom.yaml", "appName: ${APM_TEST_APP_NAME}\ntimeout: 20\n")

	cfg, err := New(Map{}, isolated(WithFile(path))...)
	require.NoError(t, err)

	assert.Equal(t, "Test Application", cfg.AppName())
	assert.Equal(t, 20, cfg.Int(KeyTimeout, 0))
}

func TestExplicitFileSkipsSearchPath(t *testing.T) {
	discovered := t.TempDir()
	writeConfigFile(t, discovered, DefaultFileName, "appName: Discovered\n")

	explicit := writeConfigFile(t, t.TempDir(), "explicit.yaml", "appName: Explicit\n")

	sp := NewSearchPath()
	sp.Push(discovered)

	cfg, err := New(Map{}, WithSearchPath(sp), WithFile(explicit), WithHostname(fixedHostname))
	require.NoError(t, err)
	assert.Equal(t, "Explicit", cfg.AppName())
}

func TestThrowsWhenSpecifiedFileIsNotFound(t *testing.T) {
	_, err := New(Map{"appName": "x"}, isolated(WithFile(t.TempDir()+"/elastic-apm-not-found.yaml"))...)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
	assert.Contains(t, err.Error(), "elastic-apm-not-found.yaml")
}

func TestInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not parseable", content: "appName: [unclosed\n"},
		{name: "sequence", content: "- appName\n- other\n"},
		{name: "scalar", content: "just a string\n"},
		{name: "empty", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, t.TempDir(), "invalid.yaml", tt.content)

			_, err := New(Map{"appName": "x"}, isolated(WithFile(path))...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigFileInvalid)
		})
	}
}

func TestInvalidDiscoveredFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, DefaultFileName, "- not\n- a mapping\n")

	sp := NewSearchPath()
	sp.Push(dir)

	_, err := New(Map{"appName": "x"}, WithSearchPath(sp), WithHostname(fixedHostname))
	assert.ErrorIs(t, err, ErrConfigFileInvalid)
}

func TestDoesNotErrorWhenDefaultFileNotFound(t *testing.T) {
	sp := NewSearchPath()
	sp.Push(t.TempDir())

	cfg, err := New(Map{"appName": "Array App Name"}, WithSearchPath(sp), WithHostname(fixedHostname))
	require.NoError(t, err)
	assert.Equal(t, "Array App Name", cfg.AppName())
}

func TestDirectoryNamedLikeConfigFileIsSkipped(t *testing.T) {
	first := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(first, DefaultFileName), 0o755))

	second := t.TempDir()
	writeConfigFile(t, second, DefaultFileName, "appName: Second\n")

	sp := NewSearchPath()
	sp.Push(second)
	sp.Push(first)

	cfg, err := New(Map{}, WithSearchPath(sp), WithHostname(fixedHostname))
	require.NoError(t, err)
	assert.Equal(t, "Second", cfg.AppName())
}
