package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/Geergon/media-relay-bot/internal/downloader"
	"github.com/Geergon/media-relay-bot/internal/media"
)

// Config is the process configuration. Keys come from config.yaml, then the
// environment (BOT_TOKEN, APP_ID, LIMITS_STANDARD_MB, ...), then flags.
type Config struct {
	Token   string `mapstructure:"bot_token"`
	AppID   int    `mapstructure:"app_id"`
	APIHash string `mapstructure:"api_hash"`
	Debug   bool   `mapstructure:"debug"`

	// ChatID is the home chat. Everyone in it may use the bot.
	ChatID       int64   `mapstructure:"chat_id"`
	AllowedChats []int64 `mapstructure:"allowed_chat"`
	// AllowedUsers are the admins: access everywhere plus admin commands.
	AllowedUsers []int64 `mapstructure:"allowed_user"`

	BotAPIEndpoint string `mapstructure:"bot_api_endpoint"`
	SessionPath    string `mapstructure:"session_path"`
	DBPath         string `mapstructure:"db_path"`
	TempDir        string `mapstructure:"temp_dir"`
	CookiesDir     string `mapstructure:"cookies_dir"`

	Tools    Tools                `mapstructure:"tools"`
	Limits   Limits               `mapstructure:"limits"`
	Backends []downloader.Backend `mapstructure:"backends"`
	Log      Log                  `mapstructure:"log"`
}

type Tools struct {
	YtDlp     string `mapstructure:"yt_dlp"`
	GalleryDl string `mapstructure:"gallery_dl"`
	FFmpeg    string `mapstructure:"ffmpeg"`
	FFprobe   string `mapstructure:"ffprobe"`
}

type Limits struct {
	StandardMB          int64         `mapstructure:"standard_mb"`
	HighCapacityMB      int64         `mapstructure:"high_capacity_mb"`
	CompressionTargetMB float64       `mapstructure:"compression_target_mb"`
	AlbumSize           int           `mapstructure:"album_size"`
	RemuxTimeout        time.Duration `mapstructure:"remux_timeout"`
	CompressTimeout     time.Duration `mapstructure:"compress_timeout"`
	MaxRetryAfter       time.Duration `mapstructure:"max_retry_after"`
	MaxFloodWait        time.Duration `mapstructure:"max_flood_wait"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	JSON       bool   `mapstructure:"json"`
}

func Default() Config {
	return Config{
		BotAPIEndpoint: "https://api.telegram.org/bot%s/%s",
		SessionPath:    "session.db",
		DBPath:         "bot.db",
		TempDir:        "tmp",
		CookiesDir:     "cookies",
		Tools: Tools{
			YtDlp:     "yt-dlp",
			GalleryDl: "gallery-dl",
			FFmpeg:    "ffmpeg",
			FFprobe:   "ffprobe",
		},
		Limits: Limits{
			StandardMB:          50,
			HighCapacityMB:      2000,
			CompressionTargetMB: 48,
			AlbumSize:           10,
			RemuxTimeout:        5 * time.Minute,
			CompressTimeout:     10 * time.Minute,
			MaxRetryAfter:       30 * time.Second,
			MaxFloodWait:        60 * time.Second,
		},
		Log: Log{
			Level:      "info",
			File:       "bot.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("bot_token", d.Token)
	v.SetDefault("app_id", d.AppID)
	v.SetDefault("api_hash", d.APIHash)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("chat_id", d.ChatID)
	v.SetDefault("allowed_chat", d.AllowedChats)
	v.SetDefault("allowed_user", d.AllowedUsers)
	v.SetDefault("bot_api_endpoint", d.BotAPIEndpoint)
	v.SetDefault("session_path", d.SessionPath)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("temp_dir", d.TempDir)
	v.SetDefault("cookies_dir", d.CookiesDir)

	v.SetDefault("tools.yt_dlp", d.Tools.YtDlp)
	v.SetDefault("tools.gallery_dl", d.Tools.GalleryDl)
	v.SetDefault("tools.ffmpeg", d.Tools.FFmpeg)
	v.SetDefault("tools.ffprobe", d.Tools.FFprobe)

	v.SetDefault("limits.standard_mb", d.Limits.StandardMB)
	v.SetDefault("limits.high_capacity_mb", d.Limits.HighCapacityMB)
	v.SetDefault("limits.compression_target_mb", d.Limits.CompressionTargetMB)
	v.SetDefault("limits.album_size", d.Limits.AlbumSize)
	v.SetDefault("limits.remux_timeout", d.Limits.RemuxTimeout)
	v.SetDefault("limits.compress_timeout", d.Limits.CompressTimeout)
	v.SetDefault("limits.max_retry_after", d.Limits.MaxRetryAfter)
	v.SetDefault("limits.max_flood_wait", d.Limits.MaxFloodWait)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.json", d.Log.JSON)
}

// Load reads path (a missing file is not an error), the environment and the
// flags bound in flags, which may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{"log.level": "log-level", "temp_dir": "temp-dir", "debug": "debug"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

// Thresholds converts the configured limits for the transport selector.
func (c Config) Thresholds() media.Thresholds {
	return media.Thresholds{
		StandardLimit:       c.Limits.StandardMB * media.MB,
		HighCapacityLimit:   c.Limits.HighCapacityMB * media.MB,
		CompressionTargetMB: c.Limits.CompressionTargetMB,
	}
}

// HighCapacityConfigured reports whether MTProto credentials are present.
func (c Config) HighCapacityConfigured() bool {
	return c.AppID != 0 && c.APIHash != ""
}

func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	var errs []error
	l := c.Limits
	if l.StandardMB <= 0 {
		errs = append(errs, errors.New("limits.standard_mb must be positive"))
	}
	if l.HighCapacityMB < l.StandardMB {
		errs = append(errs, errors.New("limits.high_capacity_mb must not be below limits.standard_mb"))
	}
	if l.CompressionTargetMB <= 0 || l.CompressionTargetMB > float64(l.StandardMB) {
		errs = append(errs, errors.New("limits.compression_target_mb must be in (0, limits.standard_mb]"))
	}
	if l.AlbumSize < 1 || l.AlbumSize > 10 {
		errs = append(errs, errors.New("limits.album_size must be between 1 and 10"))
	}
	if (c.AppID == 0) != (c.APIHash == "") {
		errs = append(errs, errors.New("app_id and api_hash must be set together"))
	}
	if !strings.Contains(c.BotAPIEndpoint, "%s") {
		errs = append(errs, errors.New("bot_api_endpoint must contain the token and method placeholders"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		switch {
		case b.Name == "":
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		case seen[b.Name]:
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true
		if !downloader.IsHTTPURL(b.Endpoint) {
			errs = append(errs, fmt.Errorf("backends[%d]: endpoint %q is not an http(s) URL", i, b.Endpoint))
		}
		if m := strings.ToUpper(b.Method); m != "" && m != "GET" && m != "POST" {
			errs = append(errs, fmt.Errorf("backends[%d]: unsupported method %q", i, b.Method))
		}
	}
	return errors.Join(errs...)
}
