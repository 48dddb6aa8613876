package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsInMemory(t *testing.T) {
	s, err := NewSettings("", nil)
	require.NoError(t, err)
	assert.True(t, s.AutoDownload())
	assert.False(t, s.DeleteURL())

	v, err := s.Toggle(DeleteURL)
	require.NoError(t, err)
	assert.True(t, v)
	assert.True(t, s.DeleteURL())

	_, err = s.Toggle("long_video_download")
	assert.Error(t, err)
}

func TestSettingsPersist(t *testing.T) {
	t.Setenv("BOT_TOKEN", "secret-from-env")
	path := writeConfig(t, "bot_token: keep-me\ndelete_url: true\n")

	s, err := NewSettings(path, nil)
	require.NoError(t, err)
	assert.True(t, s.DeleteURL())
	assert.True(t, s.AutoDownload())

	v, err := s.Toggle(AutoDownload)
	require.NoError(t, err)
	assert.False(t, v)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "keep-me")
	assert.NotContains(t, string(raw), "secret-from-env")

	again, err := NewSettings(path, nil)
	require.NoError(t, err)
	assert.False(t, again.AutoDownload())
	assert.True(t, again.DeleteURL())
}

func TestSettingsCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s, err := NewSettings(path, nil)
	require.NoError(t, err)

	_, err = s.Toggle(DeleteURL)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSettingsReload(t *testing.T) {
	path := writeConfig(t, "auto_download: true\n")
	s, err := NewSettings(path, nil)
	require.NoError(t, err)
	require.True(t, s.AutoDownload())

	require.NoError(t, os.WriteFile(path, []byte("auto_download: false\ndelete_url: true\n"), 0o600))
	s.reload()
	assert.False(t, s.AutoDownload())
	assert.True(t, s.DeleteURL())
}
