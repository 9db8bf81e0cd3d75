// Package config loads runtime settings from the environment with sane
// local defaults. Nothing is persisted; the process is configured at start.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config contains all runtime settings for the service.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// MediaDir is the root for uploads, outputs, and temp artifacts.
	MediaDir string

	FFmpegPath       string
	FFprobePath      string
	WhisperPath      string
	WhisperModelPath string

	// ElevenLabsBaseURL points at the TTS provider; overridable for tests.
	ElevenLabsBaseURL string

	// HeartbeatInterval paces observer liveness pings.
	HeartbeatInterval time.Duration
	// FlushInterval paces progress narration batching.
	FlushInterval time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns baseline configuration for a local run.
func Default() Config {
	return Config{
		Addr:              ":8000",
		MediaDir:          filepath.Join(".", "media"),
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		WhisperPath:       "whisper-cli",
		WhisperModelPath:  filepath.Join(".", "models", "ggml-base.bin"),
		ElevenLabsBaseURL: "",
		HeartbeatInterval: 5 * time.Second,
		FlushInterval:     300 * time.Millisecond,
		LogLevel:          "info",
	}
}

// FromEnv overlays AUTODUBBER_* environment variables on the defaults.
func FromEnv() Config {
	cfg := Default()
	overlay(&cfg.Addr, "AUTODUBBER_ADDR")
	overlay(&cfg.MediaDir, "AUTODUBBER_MEDIA_DIR")
	overlay(&cfg.FFmpegPath, "AUTODUBBER_FFMPEG")
	overlay(&cfg.FFprobePath, "AUTODUBBER_FFPROBE")
	overlay(&cfg.WhisperPath, "AUTODUBBER_WHISPER")
	overlay(&cfg.WhisperModelPath, "AUTODUBBER_WHISPER_MODEL")
	overlay(&cfg.ElevenLabsBaseURL, "AUTODUBBER_ELEVENLABS_URL")
	overlayDuration(&cfg.HeartbeatInterval, "AUTODUBBER_HEARTBEAT_INTERVAL")
	overlayDuration(&cfg.FlushInterval, "AUTODUBBER_FLUSH_INTERVAL")
	overlay(&cfg.LogLevel, "AUTODUBBER_LOG_LEVEL")
	return cfg
}

// UploadDir is where submitted videos are stored.
func (c Config) UploadDir() string { return filepath.Join(c.MediaDir, "uploads") }

// OutputDir is where final artifacts are written.
func (c Config) OutputDir() string { return filepath.Join(c.MediaDir, "outputs") }

// TempDir is where intermediate artifacts live.
func (c Config) TempDir() string { return filepath.Join(c.MediaDir, "temp") }

// EnsureDirs creates the media directory tree.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir(), c.OutputDir(), c.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// overlay replaces dst when the environment variable is set and non-empty.
func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// overlayDuration replaces dst when the variable parses as a duration.
func overlayDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
