// Package config loads player settings from defaults, an optional
// config.yaml, REEL_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/sink"
)

// Keys understood by Load. Nested keys map to REEL_ variables with dots
// replaced by underscores, e.g. REEL_QUEUE_CAPACITY.
const (
	KeyQueueCapacity   = "queue.capacity"
	KeyStartPaused     = "playback.start_paused"
	KeyAudioBufferMs   = "audio.buffer_ms"
	KeyAudioDevice     = "audio.device"
	KeySubtitleEmpty   = "subtitle.empty"
	KeySRTLatency      = "srt.latency"
	KeySRTDialTimeout  = "srt.dial_timeout"
	KeySkipUnsupported = "decode.skip_unsupported"
	KeyCaptions        = "source.captions"
	KeyLogLevel        = "log.level"
)

// Config is the resolved player configuration.
type Config struct {
	QueueCapacity   int
	StartPaused     bool
	AudioBuffer     time.Duration
	AudioDevice     bool
	SubtitleEmpty   sink.EmptyPolicy
	SRTLatency      time.Duration
	SRTDialTimeout  time.Duration
	SkipUnsupported bool
	Captions        bool
	LogLevel        slog.Level
}

// New returns a viper instance with defaults and environment binding in
// place. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyQueueCapacity, media.IngressQueueSize)
	v.SetDefault(KeyStartPaused, false)
	v.SetDefault(KeyAudioBufferMs, media.AudioBufferMillis)
	v.SetDefault(KeyAudioDevice, true)
	v.SetDefault(KeySubtitleEmpty, sink.EmptyClears.String())
	v.SetDefault(KeySRTLatency, 120*time.Millisecond)
	v.SetDefault(KeySRTDialTimeout, 10*time.Second)
	v.SetDefault(KeySkipUnsupported, false)
	v.SetDefault(KeyCaptions, false)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix("reel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv(KeyLogLevel, "REEL_LOG_LEVEL", "LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.reel", "/etc/reel"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// Load reads the config file and resolves every key. When file is empty
// the default search path is used and a missing file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		QueueCapacity:   v.GetInt(KeyQueueCapacity),
		StartPaused:     v.GetBool(KeyStartPaused),
		AudioBuffer:     time.Duration(v.GetInt(KeyAudioBufferMs)) * time.Millisecond,
		AudioDevice:     v.GetBool(KeyAudioDevice),
		SRTLatency:      v.GetDuration(KeySRTLatency),
		SRTDialTimeout:  v.GetDuration(KeySRTDialTimeout),
		SkipUnsupported: v.GetBool(KeySkipUnsupported),
		Captions:        v.GetBool(KeyCaptions),
	}

	if cfg.QueueCapacity < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1, got %d", KeyQueueCapacity, cfg.QueueCapacity)
	}
	if cfg.AudioBuffer <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", KeyAudioBufferMs, v.GetInt(KeyAudioBufferMs))
	}

	var err error
	if cfg.SubtitleEmpty, err = sink.ParseEmptyPolicy(v.GetString(KeySubtitleEmpty)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeySubtitleEmpty, err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	if os.Getenv("DEBUG") != "" {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}
