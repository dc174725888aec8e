package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/sink"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("DEBUG", "")

	cfg, err := Load(New(), writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Config{
		QueueCapacity:  128,
		AudioBuffer:    500 * time.Millisecond,
		AudioDevice:    true,
		SubtitleEmpty:  sink.EmptyClears,
		SRTLatency:     120 * time.Millisecond,
		SRTDialTimeout: 10 * time.Second,
		LogLevel:       slog.LevelInfo,
	}, cfg)
}

func TestConfigFile(t *testing.T) {
	t.Setenv("DEBUG", "")

	path := writeConfig(t, `
queue:
  capacity: 16
playback:
  start_paused: true
subtitle:
  empty: ignore
srt:
  latency: 250ms
log:
  level: warn
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.QueueCapacity)
	require.True(t, cfg.StartPaused)
	require.Equal(t, sink.EmptyIgnored, cfg.SubtitleEmpty)
	require.Equal(t, 250*time.Millisecond, cfg.SRTLatency)
	require.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("DEBUG", "")
	t.Setenv("REEL_QUEUE_CAPACITY", "4")
	t.Setenv("REEL_AUDIO_DEVICE", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(New(), writeConfig(t, "queue:\n  capacity: 16\n"))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.QueueCapacity)
	require.False(t, cfg.AudioDevice)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestDebugEnvironment(t *testing.T) {
	t.Setenv("DEBUG", "1")

	cfg, err := Load(New(), writeConfig(t, "log:\n  level: error\n"))
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("DEBUG", "")

	for name, body := range map[string]string{
		"capacity": "queue:\n  capacity: 0\n",
		"buffer":   "audio:\n  buffer_ms: -5\n",
		"subtitle": "subtitle:\n  empty: drop\n",
		"level":    "log:\n  level: loud\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
