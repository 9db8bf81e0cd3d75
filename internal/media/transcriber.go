package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autodubber/internal/domain"
	"autodubber/internal/progress"
)

// Whisper transcribes audio with the whisper.cpp CLI.
type Whisper struct {
	binPath   string
	modelPath string
	runner    commandRunner

	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// NewWhisper constructs the production transcriber.
func NewWhisper(binPath, modelPath string) *Whisper {
	if binPath == "" {
		binPath = "whisper-cli"
	}
	return &Whisper{
		binPath:   binPath,
		modelPath: modelPath,
		runner:    &execRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}
}

// whisperOutput mirrors the whisper.cpp -oj JSON export.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs whisper.cpp over a WAV file and returns timed segments.
// Blank segments are dropped; an empty result is returned to the caller
// undecorated so the orchestrator can apply its no-speech rule.
func (w *Whisper) Transcribe(ctx context.Context, sink progress.Sink, audioPath string) ([]domain.Segment, error) {
	sink.Progressf("Loading Whisper model: %s...", w.modelPath)

	workDir, err := w.mkdirTemp("", "autodubber-whisper-*")
	if err != nil {
		return nil, &domain.CollaboratorError{
			Stage:   "transcribe",
			Message: "failed to create transcription workspace",
			Err:     err,
		}
	}
	defer func() { _ = w.removeAll(workDir) }()

	outBase := filepath.Join(workDir, "transcript")
	sink.Progressf("Transcribing audio with Whisper AI...")

	args := buildWhisperArgs(w.modelPath, audioPath, outBase)
	if result, err := w.runner.Run(ctx, w.binPath, args...); err != nil {
		sink.Errorf("Transcription failed: %v", err)
		return nil, &domain.CollaboratorError{
			Stage:   "transcribe",
			Message: whisperFailure(result),
			Err:     err,
		}
	}

	data, err := w.readFile(outBase + ".json")
	if err != nil {
		return nil, &domain.CollaboratorError{
			Stage:   "transcribe",
			Message: "whisper completed but transcript JSON is missing",
			Err:     err,
		}
	}

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &domain.CollaboratorError{
			Stage:   "transcribe",
			Message: "cannot parse whisper transcript JSON",
			Err:     err,
		}
	}

	segments := make([]domain.Segment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		segments = append(segments, domain.Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  text,
		})
	}

	sink.Progressf("Transcription completed successfully.")
	return segments, nil
}

// whisperFailure formats a transcription failure with stderr context.
func whisperFailure(result commandResult) string {
	stderr := strings.TrimSpace(result.Stderr)
	if stderr == "" {
		return "whisper transcription failed"
	}
	lines := strings.Split(stderr, "\n")
	return fmt.Sprintf("whisper transcription failed: %s", strings.TrimSpace(lines[len(lines)-1]))
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase string) []string {
	return []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
}
