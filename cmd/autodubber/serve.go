package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autodubber/internal/config"
	"autodubber/internal/elevenlabs"
	"autodubber/internal/hub"
	"autodubber/internal/jobs"
	"autodubber/internal/logging"
	"autodubber/internal/media"
	"autodubber/internal/pipeline"
	"autodubber/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dubbing API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AUTODUBBER_ADDR)")
	return cmd
}

func serve(cfg config.Config) error {
	log := logging.New(cfg.LogLevel)

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing media directories: %w", err)
	}

	registry := jobs.NewRegistry()
	h := hub.New(log, registry, cfg.HeartbeatInterval)

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	whisper := media.NewWhisper(cfg.WhisperPath, cfg.WhisperModelPath)
	tts := elevenlabs.NewClient(cfg.ElevenLabsBaseURL)

	orch := pipeline.New(log, registry, h, ffmpeg, whisper, tts, media.WriteSRT, pipeline.Options{
		TempDir:       cfg.TempDir(),
		OutputDir:     cfg.OutputDir(),
		FlushInterval: cfg.FlushInterval,
	})

	return server.New(log, cfg, registry, h, orch, tts).Start()
}
