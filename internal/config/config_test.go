package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("AUTODUBBER_ADDR", ":9000")
	t.Setenv("AUTODUBBER_MEDIA_DIR", "/srv/media")
	t.Setenv("AUTODUBBER_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("AUTODUBBER_FLUSH_INTERVAL", "bogus")

	cfg := FromEnv()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/srv/media", cfg.MediaDir)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.FlushInterval, "unparseable duration keeps the default")
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath, "unset variables keep defaults")
}

func TestDerivedDirs(t *testing.T) {
	cfg := Default()
	cfg.MediaDir = "/data"
	assert.Equal(t, filepath.Join("/data", "uploads"), cfg.UploadDir())
	assert.Equal(t, filepath.Join("/data", "outputs"), cfg.OutputDir())
	assert.Equal(t, filepath.Join("/data", "temp"), cfg.TempDir())
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.MediaDir = filepath.Join(t.TempDir(), "media")
	require.NoError(t, cfg.EnsureDirs())

	for _, dir := range []string{cfg.UploadDir(), cfg.OutputDir(), cfg.TempDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
