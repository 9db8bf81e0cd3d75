package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"autodubber/internal/domain"
	"autodubber/internal/progress"
)

// ErrNoAudioTrack indicates the uploaded video carries no audio stream.
var ErrNoAudioTrack = errors.New("video has no audio track")

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg constructs the production toolkit using binaries on PATH or at
// the configured locations.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

// ExtractAudio pulls the audio track of a video into a mono WAV file.
func (f *FFmpeg) ExtractAudio(ctx context.Context, sink progress.Sink, videoPath, outPath string) error {
	sink.Progressf("Extracting audio from video file: %s...", videoPath)

	args := buildExtractArgs(videoPath, outPath)
	result, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		if strings.Contains(result.Stderr, "does not contain any stream") {
			sink.Errorf("Audio extraction failed: %s", ErrNoAudioTrack)
			return &domain.CollaboratorError{
				Stage:   "extract_audio",
				Message: ErrNoAudioTrack.Error(),
				Err:     ErrNoAudioTrack,
			}
		}
		sink.Errorf("Audio extraction failed: %v", err)
		return &domain.CollaboratorError{
			Stage:   "extract_audio",
			Message: "ffmpeg audio extraction failed",
			Err:     err,
		}
	}

	sink.Progressf("Extracted audio: %s", outPath)
	return nil
}

// Duration returns a media file's duration in seconds via ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, mediaPath string) (float64, error) {
	result, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	)
	if err != nil {
		return 0, &domain.CollaboratorError{
			Stage:   "probe",
			Message: fmt.Sprintf("cannot probe media duration: %s", mediaPath),
			Err:     err,
		}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, &domain.CollaboratorError{
			Stage:   "probe",
			Message: "ffprobe returned an unparseable duration",
			Err:     err,
		}
	}
	return duration, nil
}

// AssembleVoiceover lays synthesized clips onto a single audio track at
// their original timeline offsets.
func (f *FFmpeg) AssembleVoiceover(ctx context.Context, sink progress.Sink, clips []domain.Clip, duration float64, outPath string) error {
	if len(clips) == 0 {
		return &domain.CollaboratorError{
			Stage:   "assemble_audio",
			Message: "no audio clips to assemble",
		}
	}

	sink.Progressf("Creating composite voiceover track from segments...")
	sink.Progressf("Processing %d audio segments for composition", len(clips))

	final := duration
	for _, clip := range clips {
		if clip.End > final {
			final = clip.End
		}
	}

	args := buildAssembleArgs(clips, final, outPath)
	if result, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		sink.Errorf("Voiceover assembly failed: %v", err)
		return &domain.CollaboratorError{
			Stage:   "assemble_audio",
			Message: ffmpegFailure("voiceover assembly failed", result),
			Err:     err,
		}
	}

	sink.Progressf("Voiceover assembly completed. Duration: %.2fs", final)
	return nil
}

// Mux replaces a video's audio track with the composed voiceover.
func (f *FFmpeg) Mux(ctx context.Context, sink progress.Sink, videoPath, audioPath, outPath string) error {
	sink.Progressf("Creating final video with voiceover: %s", outPath)
	sink.Progressf("Encoding final video (this may take a while)...")

	args := buildMuxArgs(videoPath, audioPath, outPath)
	if result, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		sink.Errorf("Video creation failed: %v", err)
		return &domain.CollaboratorError{
			Stage:   "assemble_video",
			Message: ffmpegFailure("final video encoding failed", result),
			Err:     err,
		}
	}

	sink.Progressf("Final video creation completed successfully!")
	return nil
}

// AdjustSpeed re-times an audio file by the given tempo factor.
func (f *FFmpeg) AdjustSpeed(ctx context.Context, sink progress.Sink, audioPath string, factor float64, outPath string) error {
	sink.Progressf("Adjusting audio speed to %.0f%%", factor*100)

	args := buildAdjustArgs(audioPath, factor, outPath)
	if result, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		sink.Errorf("Speed adjustment failed: %v", err)
		return &domain.CollaboratorError{
			Stage:   "adjust_speed",
			Message: ffmpegFailure("audio speed adjustment failed", result),
			Err:     err,
		}
	}
	return nil
}

// ffmpegFailure attaches a stderr tail to a failure message when available.
func ffmpegFailure(message string, result commandResult) string {
	stderr := strings.TrimSpace(result.Stderr)
	if stderr == "" {
		return message
	}
	lines := strings.Split(stderr, "\n")
	return message + ": " + strings.TrimSpace(lines[len(lines)-1])
}

// buildExtractArgs builds CLI args for mono 44.1k PCM WAV extraction.
func buildExtractArgs(videoPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "44100",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildAssembleArgs builds an adelay/amix filter graph positioning each clip
// at its segment start time.
func buildAssembleArgs(clips []domain.Clip, duration float64, outPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filter strings.Builder
	labels := make([]string, 0, len(clips))
	for i, clip := range clips {
		delayMS := int(clip.Start * 1000)
		label := fmt.Sprintf("a%d", i)
		fmt.Fprintf(&filter, "[%d:a]adelay=%d:all=1[%s];", i, delayMS, label)
		labels = append(labels, "["+label+"]")
	}
	fmt.Fprintf(&filter, "%samix=inputs=%d:normalize=0[mix]", strings.Join(labels, ""), len(clips))

	return append(args,
		"-filter_complex", filter.String(),
		"-map", "[mix]",
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-c:a", "libmp3lame",
		outPath,
	)
}

// buildMuxArgs builds CLI args that copy the video stream and encode the
// new audio track.
func buildMuxArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
}

// buildAdjustArgs builds CLI args applying an atempo chain.
func buildAdjustArgs(audioPath string, factor float64, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", audioPath,
		"-filter:a", buildAtempoChain(factor),
		"-c:a", "libmp3lame",
		outPath,
	}
}

// buildAtempoChain splits a tempo factor into atempo stages, since a single
// atempo filter only accepts factors in [0.5, 2].
func buildAtempoChain(factor float64) string {
	var stages []string
	for factor > 2 {
		stages = append(stages, "atempo=2")
		factor /= 2
	}
	for factor < 0.5 {
		stages = append(stages, "atempo=0.5")
		factor /= 0.5
	}
	stages = append(stages, "atempo="+strconv.FormatFloat(factor, 'f', -1, 64))
	return strings.Join(stages, ",")
}
