package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
)

const sampleYAML = `
bot_token: from-file
chat_id: -100123
allowed_user: [11, 22]
limits:
  standard_mb: 20
  compression_target_mb: 19
backends:
  - name: loader
    endpoint: https://loader.example/api
    method: post
    param: url
    timeout: 45s
    extra:
      lang: en
log:
  level: warn
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Limits, cfg.Limits)
	assert.Equal(t, d.Tools, cfg.Tools)
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.BotAPIEndpoint, cfg.BotAPIEndpoint)
	assert.Empty(t, cfg.Backends)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, media.DefaultThresholds(), cfg.Thresholds())
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, int64(-100123), cfg.ChatID)
	assert.Equal(t, []int64{11, 22}, cfg.AllowedUsers)
	assert.True(t, cfg.IsAdmin(22))
	assert.False(t, cfg.IsAdmin(33))
	assert.Equal(t, int64(20), cfg.Limits.StandardMB)
	assert.Equal(t, int64(2000), cfg.Limits.HighCapacityMB, "unset keys keep defaults")
	assert.Equal(t, "warn", cfg.Log.Level)

	require.Len(t, cfg.Backends, 1)
	b := cfg.Backends[0]
	assert.Equal(t, "loader", b.Name)
	assert.Equal(t, "https://loader.example/api", b.Endpoint)
	assert.Equal(t, 45*time.Second, b.Timeout)
	assert.Equal(t, map[string]string{"lang": "en"}, b.Extra)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("LIMITS_STANDARD_MB", "30")
	t.Setenv("ALLOWED_CHAT", "-1001,-1002")

	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, int64(30), cfg.Limits.StandardMB)
	assert.Equal(t, []int64{-1001, -1002}, cfg.AllowedChats)
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	path := writeConfig(t, sampleYAML)

	f, err := ParseFlags([]string{"--config", path, "--log-level", "debug", "--fetch", "https://x.example/v", "--kind", "audio"})
	require.NoError(t, err)
	assert.Equal(t, path, f.ConfigPath)
	assert.Equal(t, "https://x.example/v", f.Fetch)
	assert.Equal(t, "audio", f.Kind)

	cfg, err := Load(f.ConfigPath, f.Set)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "tmp", cfg.TempDir, "unchanged flags do not override defaults")
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	_, err := Load(writeConfig(t, "limits: [unclosed"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"zero standard limit", func(c *Config) { c.Limits.StandardMB = 0 }, "standard_mb"},
		{"high capacity below standard", func(c *Config) { c.Limits.HighCapacityMB = 10 }, "high_capacity_mb"},
		{"target above limit", func(c *Config) { c.Limits.CompressionTargetMB = 60 }, "compression_target_mb"},
		{"album too large", func(c *Config) { c.Limits.AlbumSize = 11 }, "album_size"},
		{"app id without hash", func(c *Config) { c.AppID = 1 }, "api_hash"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"endpoint without placeholders", func(c *Config) { c.BotAPIEndpoint = "https://api.telegram.org" }, "bot_api_endpoint"},
		{"backend without name", func(c *Config) {
			c.Backends = []downloader.Backend{{Endpoint: "https://a.example"}}
		}, "name is required"},
		{"duplicate backend", func(c *Config) {
			c.Backends = []downloader.Backend{{Name: "a", Endpoint: "https://a.example"}, {Name: "a", Endpoint: "https://b.example"}}
		}, "duplicate"},
		{"backend bad endpoint", func(c *Config) {
			c.Backends = []downloader.Backend{{Name: "a", Endpoint: "ftp://a.example"}}
		}, "not an http(s) URL"},
		{"backend bad method", func(c *Config) {
			c.Backends = []downloader.Backend{{Name: "a", Endpoint: "https://a.example", Method: "PUT"}}
		}, "unsupported method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestHighCapacityConfigured(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.HighCapacityConfigured())
	cfg.AppID, cfg.APIHash = 123, "hash"
	assert.True(t, cfg.HighCapacityConfigured())
	assert.NoError(t, cfg.Validate())
}
