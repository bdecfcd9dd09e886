package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPathPushAndReset(t *testing.T) {
	sp := NewSearchPath()
	assert.Equal(t, []string{CurrentDirectory}, sp.Dirs())

	sp.Push("/etc/apm")
	sp.Push("/opt/app")
	assert.Equal(t, []string{"/opt/app", "/etc/apm", CurrentDirectory}, sp.Dirs())

	sp.Reset()
	assert.Equal(t, []string{CurrentDirectory}, sp.Dirs())
}

func TestSearchPathDirsIsACopy(t *testing.T) {
	sp := NewSearchPath()
	dirs := sp.Dirs()
	dirs[0] = "/elsewhere"

	assert.Equal(t, []string{CurrentDirectory}, sp.Dirs())
}

func TestProcessSearchPathDiscovery(t *testing.T) {
	t.Cleanup(ResetSearchPath)

	dir := t.TempDir()
	writeConfigFile(t, dir, DefaultFileName, "appName: FileApp\n")

	PushSearchPath(dir)
	assert.Equal(t, dir, DefaultSearchPath().Dirs()[0])

	cfg, err := New(Map{}, WithHostname(fixedHostname))
	require.NoError(t, err)
	assert.Equal(t, "FileApp", cfg.AppName())

	cfg, err = New(Map{"appName": "Override"}, WithHostname(fixedHostname))
	require.NoError(t, err)
	assert.Equal(t, "Override", cfg.AppName())

	ResetSearchPath()
	assert.Equal(t, []string{CurrentDirectory}, DefaultSearchPath().Dirs())

	_, err = New(Map{}, WithHostname(fixedHostname))
	assert.ErrorIs(t, err, ErrMissingRequiredField, "file is no longer discovered after reset")
}

func TestSearchPathConcurrentAccess(t *testing.T) {
	sp := NewSearchPath()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			sp.Push("/tmp")
		}
	}()

	for i := 0; i < 100; i++ {
		_ = sp.Dirs()
	}
	<-done

	assert.Len(t, sp.Dirs(), 101)
}
