package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	AutoDownload = "auto_download"
	DeleteURL    = "delete_url"
)

// Settings are the toggles admins flip from chat. They live in the config
// file next to the static keys and are reloaded when the file changes.
//
// A separate viper instance is used so that writing the file back never
// persists values that came from the environment.
type Settings struct {
	mu     sync.RWMutex
	v      *viper.Viper
	path   string
	values map[string]bool
	log    *zap.Logger
}

// NewSettings loads the toggles from path. An empty path keeps them in memory.
func NewSettings(path string, log *zap.Logger) (*Settings, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetDefault(AutoDownload, true)
	v.SetDefault(DeleteURL, false)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	s := &Settings{v: v, path: path, log: log}
	s.load()
	return s, nil
}

func (s *Settings) load() {
	s.values = map[string]bool{
		AutoDownload: s.v.GetBool(AutoDownload),
		DeleteURL:    s.v.GetBool(DeleteURL),
	}
}

func (s *Settings) Get(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *Settings) AutoDownload() bool { return s.Get(AutoDownload) }
func (s *Settings) DeleteURL() bool    { return s.Get(DeleteURL) }

// Toggle flips key, writes the file and returns the new value.
func (s *Settings) Toggle(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.values[key]
	if !ok {
		return false, fmt.Errorf("unknown setting %q", key)
	}
	if s.path != "" {
		if err := s.write(key, !cur); err != nil {
			return cur, fmt.Errorf("save settings: %w", err)
		}
	}
	s.values[key] = !cur
	s.log.Info("setting changed", zap.String("key", key), zap.Bool("value", !cur))
	return !cur, nil
}

// write goes through a scratch instance: an override set on s.v would shadow
// later edits of the file.
func (s *Settings) write(key string, value bool) error {
	w := viper.New()
	w.SetConfigFile(s.path)
	if err := w.ReadInConfig(); err != nil && !isNotExist(err) {
		return err
	}
	w.Set(key, value)
	return w.WriteConfig()
}

// Watch reloads the toggles whenever the config file changes on disk.
func (s *Settings) Watch() {
	if s.path == "" {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.reload()
		s.log.Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	})
	s.v.WatchConfig()
}

func (s *Settings) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.ReadInConfig(); err != nil {
		s.log.Warn("reload settings", zap.Error(err))
		return
	}
	s.load()
}
