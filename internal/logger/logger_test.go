package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "bot.log")

	log, err := New(Options{Level: "info", File: file, MaxSizeMB: 1, Console: &console})
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("delivered", zap.String("transport", "standard"))
	_ = log.Sync()

	assert.Contains(t, console.String(), "delivered")
	assert.NotContains(t, console.String(), "hidden")

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "delivered", entry["msg"])
	assert.Equal(t, "standard", entry["transport"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewJSONConsole(t *testing.T) {
	var console bytes.Buffer
	log, err := New(Options{Level: "debug", JSON: true, Console: &console})
	require.NoError(t, err)
	log.Debug("probe")
	_ = log.Sync()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &entry))
	assert.Equal(t, "probe", entry["msg"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}
