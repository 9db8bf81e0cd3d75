// Package pipeline drives a dubbing job through its stages: audio
// extraction, transcription, a confirmation pause, speech synthesis, and
// final assembly. Each run executes on its own goroutine and reports through
// the registry and hub.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"autodubber/internal/domain"
	"autodubber/internal/hub"
	"autodubber/internal/jobs"
	"autodubber/internal/progress"
)

// MediaToolkit covers the ffmpeg-backed operations the pipeline needs.
type MediaToolkit interface {
	ExtractAudio(ctx context.Context, sink progress.Sink, videoPath, outPath string) error
	Duration(ctx context.Context, mediaPath string) (float64, error)
	AssembleVoiceover(ctx context.Context, sink progress.Sink, clips []domain.Clip, duration float64, outPath string) error
	Mux(ctx context.Context, sink progress.Sink, videoPath, audioPath, outPath string) error
	AdjustSpeed(ctx context.Context, sink progress.Sink, audioPath string, factor float64, outPath string) error
}

// Transcriber converts an audio file into timed text segments.
type Transcriber interface {
	Transcribe(ctx context.Context, sink progress.Sink, audioPath string) ([]domain.Segment, error)
}

// Synthesizer generates one audio clip per segment.
type Synthesizer interface {
	Synthesize(ctx context.Context, sink progress.Sink, apiKey string, segments []domain.Segment, voiceID string, speed float64, outDir string) ([]domain.Clip, error)
}

// SRTWriter exports segments as a subtitle file.
type SRTWriter func(segments []domain.Segment, path string) error

// Stage progress floors. Each transition sets the job's progress to the
// floor and raises the tracker watermark so inferred progress never moves
// backwards across a boundary.
const (
	floorExtracting   = 10
	floorTranscribing = 20
	floorAwaiting     = 40
	floorConfirmed    = 45
	floorSynthesizing = 50
	floorAssembling   = 80
	floorMuxing       = 90
	floorAdjusting    = 10
	floorRendering    = 50
	floorDone         = 100
)

// publicOutputPrefix is the URL prefix under which output artifacts are
// served.
const publicOutputPrefix = "/media/outputs/"

// Options carries the orchestrator's filesystem layout and pacing.
type Options struct {
	TempDir       string
	OutputDir     string
	FlushInterval time.Duration
}

// Orchestrator owns every pipeline run in the process. It is safe for
// concurrent use; per-job exclusivity comes from the registry's run marks.
type Orchestrator struct {
	log         *slog.Logger
	registry    *jobs.Registry
	hub         *hub.Hub
	media       MediaToolkit
	transcriber Transcriber
	synthesizer Synthesizer
	writeSRT    SRTWriter
	opts        Options
}

// New wires an orchestrator. writeSRT may be nil only in tests that never
// reach the subtitle step.
func New(log *slog.Logger, registry *jobs.Registry, h *hub.Hub, media MediaToolkit, transcriber Transcriber, synthesizer Synthesizer, writeSRT SRTWriter, opts Options) *Orchestrator {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = progress.DefaultFlushInterval
	}
	return &Orchestrator{
		log:         log,
		registry:    registry,
		hub:         h,
		media:       media,
		transcriber: transcriber,
		synthesizer: synthesizer,
		writeSRT:    writeSRT,
		opts:        opts,
	}
}

// Start launches the first half of the pipeline for a freshly created job,
// up to the confirmation pause. It returns immediately; progress is reported
// through the hub.
func (o *Orchestrator) Start(jobID string) error {
	if _, err := o.registry.Get(jobID); err != nil {
		return err
	}
	if !o.registry.TryAcquireRun(jobID) {
		return &domain.ValidationError{Field: "job_id", Message: "job is already being processed"}
	}
	go o.run(jobID)
	return nil
}

// run executes upload -> extraction -> transcription -> confirmation pause.
// The run mark is released at the end so a later Confirm can start the
// second half.
func (o *Orchestrator) run(jobID string) {
	defer o.registry.ReleaseRun(jobID)
	ctx := context.Background()

	tr := o.newTracker(jobID)
	defer tr.Close()
	sink := progress.Sink(tr.Observe)

	job, err := o.registry.Get(jobID)
	if err != nil {
		o.log.Error("pipeline run for unknown job", "job_id", jobID, "error", err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusExtractingMedia, floorExtracting); err != nil {
		o.fail(jobID, err)
		return
	}
	audioPath := filepath.Join(o.opts.TempDir, jobID+"_audio.wav")
	if err := o.media.ExtractAudio(ctx, sink, job.SourcePath, audioPath); err != nil {
		o.fail(jobID, err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusTranscribing, floorTranscribing); err != nil {
		o.fail(jobID, err)
		return
	}
	segments, err := o.transcriber.Transcribe(ctx, sink, audioPath)
	if err != nil {
		o.fail(jobID, err)
		return
	}
	if len(segments) == 0 {
		o.fail(jobID, &domain.CollaboratorError{
			Stage:   "transcribe",
			Message: "no speech detected in the video",
		})
		return
	}

	srtPath := filepath.Join(o.opts.TempDir, jobID+"_subtitles.srt")
	if err := o.writeSRT(segments, srtPath); err != nil {
		o.fail(jobID, err)
		return
	}

	tr.Close()
	status := domain.StatusAwaitingConfirmation
	record, err := o.registry.Update(jobID, domain.Patch{
		Status:        &status,
		Progress:      floatPtr(floorAwaiting),
		Activity:      strPtr(domain.StatusMessages[status]),
		Transcription: segments,
		SubtitlePath:  &srtPath,
	})
	if err != nil {
		o.log.Error("cannot record transcription", "job_id", jobID, "error", err)
		return
	}
	o.hub.Publish(jobID, record)
	o.log.Info("job awaiting transcription confirmation", "job_id", jobID, "segments", len(segments))
}

// Confirm accepts the reviewed transcription, optionally with a new speech
// speed, and resumes the pipeline from synthesis.
func (o *Orchestrator) Confirm(jobID string, segments []domain.Segment, speed *float64) error {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusAwaitingConfirmation {
		return &domain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("job is not awaiting confirmation (status: %s)", job.Status),
		}
	}
	if len(segments) == 0 {
		return &domain.ValidationError{Field: "transcription", Message: "transcription cannot be empty"}
	}
	if speed != nil && (*speed < 0.7 || *speed > 1.2) {
		return &domain.ValidationError{Field: "speed_factor", Message: "speed factor must be between 0.7 and 1.2"}
	}
	if !o.registry.TryAcquireRun(jobID) {
		return &domain.ValidationError{Field: "job_id", Message: "job is already being processed"}
	}

	status := domain.StatusConfirmed
	patch := domain.Patch{
		Status:        &status,
		Progress:      floatPtr(floorConfirmed),
		Activity:      strPtr(domain.StatusMessages[status]),
		Transcription: segments,
	}
	if speed != nil {
		patch.SpeedFactor = speed
	}
	record, err := o.registry.Update(jobID, patch)
	if err != nil {
		o.registry.ReleaseRun(jobID)
		return err
	}
	o.hub.Publish(jobID, record)

	if job.SubtitlePath != "" {
		if err := o.writeSRT(segments, job.SubtitlePath); err != nil {
			o.log.Warn("cannot rewrite subtitles after edit", "job_id", jobID, "error", err)
		}
	}

	go o.resume(jobID)
	return nil
}

// resume executes synthesis -> voiceover assembly -> final mux.
func (o *Orchestrator) resume(jobID string) {
	defer o.registry.ReleaseRun(jobID)
	ctx := context.Background()

	tr := o.newTracker(jobID)
	tr.Advance(floorConfirmed)
	defer tr.Close()
	sink := progress.Sink(tr.Observe)

	job, err := o.registry.Get(jobID)
	if err != nil {
		o.log.Error("pipeline resume for unknown job", "job_id", jobID, "error", err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusSynthesizing, floorSynthesizing); err != nil {
		o.fail(jobID, err)
		return
	}
	clipDir := filepath.Join(o.opts.TempDir, jobID+"_segments")
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		o.fail(jobID, err)
		return
	}
	clips, err := o.synthesizer.Synthesize(ctx, sink, job.APIKey, job.Transcription, job.VoiceID, job.SpeedFactor, clipDir)
	if err != nil {
		o.fail(jobID, err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusAssemblingAudio, floorAssembling); err != nil {
		o.fail(jobID, err)
		return
	}
	duration, err := o.media.Duration(ctx, job.SourcePath)
	if err != nil {
		o.fail(jobID, err)
		return
	}
	voiceoverName := jobID + "_audio_only.mp3"
	voiceoverPath := filepath.Join(o.opts.OutputDir, voiceoverName)
	if err := o.media.AssembleVoiceover(ctx, sink, clips, duration, voiceoverPath); err != nil {
		o.fail(jobID, err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusAssemblingVideo, floorMuxing); err != nil {
		o.fail(jobID, err)
		return
	}
	videoName := jobID + "_output.mp4"
	videoPath := filepath.Join(o.opts.OutputDir, videoName)
	if err := o.media.Mux(ctx, sink, job.SourcePath, voiceoverPath, videoPath); err != nil {
		o.fail(jobID, err)
		return
	}

	tr.Close()
	o.complete(jobID, publicOutputPrefix+videoName, publicOutputPrefix+voiceoverName, nil)
}

// AdjustSpeed re-times a completed job's voiceover by factor and renders a
// new video. The job re-enters the pipeline with progress reset to zero.
func (o *Orchestrator) AdjustSpeed(jobID string, factor float64) error {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusCompleted {
		return &domain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("speed can only be adjusted on a completed job (status: %s)", job.Status),
		}
	}
	if factor <= 0 {
		return &domain.ValidationError{Field: "speed_factor", Message: "speed factor must be positive"}
	}
	if job.AudioPath == "" {
		return &domain.NotFoundError{Resource: "voiceover track", ID: jobID}
	}
	if !o.registry.TryAcquireRun(jobID) {
		return &domain.ValidationError{Field: "job_id", Message: "job is already being processed"}
	}
	go o.runAdjust(jobID, factor)
	return nil
}

// runAdjust executes the speed-adjustment side branch.
func (o *Orchestrator) runAdjust(jobID string, factor float64) {
	defer o.registry.ReleaseRun(jobID)
	ctx := context.Background()

	tr := o.newTracker(jobID)
	defer tr.Close()
	sink := progress.Sink(tr.Observe)

	job, err := o.registry.Get(jobID)
	if err != nil {
		o.log.Error("speed adjustment for unknown job", "job_id", jobID, "error", err)
		return
	}

	// Entering the side branch resets progress before the first floor.
	status := domain.StatusAdjustingSpeed
	record, err := o.registry.Update(jobID, domain.Patch{
		Status:   &status,
		Progress: floatPtr(0),
		Activity: strPtr(domain.StatusMessages[status]),
		Error:    strPtr(""),
	})
	if err != nil {
		o.log.Error("cannot enter speed adjustment", "job_id", jobID, "error", err)
		return
	}
	o.hub.Publish(jobID, record)
	o.bump(jobID, tr, floorAdjusting)

	audioName := fmt.Sprintf("%s_speed_%g_audio.mp3", jobID, factor)
	audioPath := filepath.Join(o.opts.OutputDir, audioName)
	if err := o.media.AdjustSpeed(ctx, sink, o.localArtifact(job.AudioPath), factor, audioPath); err != nil {
		o.fail(jobID, err)
		return
	}

	if err := o.transition(jobID, tr, domain.StatusRenderingAdjusted, floorRendering); err != nil {
		o.fail(jobID, err)
		return
	}
	videoName := fmt.Sprintf("%s_speed_%g_video.mp4", jobID, factor)
	videoPath := filepath.Join(o.opts.OutputDir, videoName)
	if err := o.media.Mux(ctx, sink, job.SourcePath, audioPath, videoPath); err != nil {
		o.fail(jobID, err)
		return
	}

	tr.Close()
	o.complete(jobID, publicOutputPrefix+videoName, publicOutputPrefix+audioName, &factor)
}

// transition moves a job to the next stage and sets its progress floor.
func (o *Orchestrator) transition(jobID string, tr *progress.Tracker, to domain.JobStatus, floor float64) error {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	if !jobs.ValidTransition(job.Status, to) {
		return &domain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("invalid transition from %s to %s", job.Status, to),
		}
	}

	tr.Advance(floor)
	record, err := o.registry.Update(jobID, domain.Patch{
		Status:   &to,
		Progress: &floor,
		Activity: strPtr(domain.StatusMessages[to]),
	})
	if err != nil {
		return err
	}
	o.hub.Publish(jobID, record)
	o.log.Info("job stage advanced", "job_id", jobID, "status", to, "progress", floor)
	return nil
}

// bump raises progress within the current stage without a status change.
func (o *Orchestrator) bump(jobID string, tr *progress.Tracker, floor float64) {
	tr.Advance(floor)
	record, err := o.registry.Update(jobID, domain.Patch{Progress: &floor})
	if err != nil {
		return
	}
	o.hub.Publish(jobID, record)
}

// complete finalizes a successful run with its artifact URLs.
func (o *Orchestrator) complete(jobID, videoURL, audioURL string, speed *float64) {
	now := time.Now().UTC()
	status := domain.StatusCompleted
	patch := domain.Patch{
		Status:     &status,
		Progress:   floatPtr(floorDone),
		Activity:   strPtr(domain.StatusMessages[status]),
		FinishedAt: &now,
		VideoPath:  &videoURL,
		AudioPath:  &audioURL,
	}
	if speed != nil {
		patch.SpeedFactor = speed
	}
	record, err := o.registry.Update(jobID, patch)
	if err != nil {
		o.log.Error("cannot finalize job", "job_id", jobID, "error", err)
		return
	}
	o.hub.Publish(jobID, record)
	o.log.Info("job completed", "job_id", jobID, "video", videoURL)
}

// fail marks a job terminally failed and broadcasts the final record.
func (o *Orchestrator) fail(jobID string, cause error) {
	o.log.Error("pipeline run failed", "job_id", jobID, "error", cause)

	now := time.Now().UTC()
	status := domain.StatusError
	record, err := o.registry.Update(jobID, domain.Patch{
		Status:     &status,
		Progress:   floatPtr(0),
		Error:      strPtr(cause.Error()),
		Activity:   strPtr("Error: " + cause.Error()),
		FinishedAt: &now,
	})
	if err != nil {
		o.log.Error("cannot record job failure", "job_id", jobID, "error", err)
		return
	}
	o.hub.Publish(jobID, record)
}

// newTracker builds the progress inference pipe for one run: flushed updates
// merge into the registry and fan out through the hub; error narration lands
// on the job's error field without ending the run.
func (o *Orchestrator) newTracker(jobID string) *progress.Tracker {
	status := func() domain.JobStatus {
		job, err := o.registry.Get(jobID)
		if err != nil {
			return domain.StatusError
		}
		return job.Status
	}
	emit := func(u progress.Update) {
		job, err := o.registry.Get(jobID)
		if err != nil || job.Status.Terminal() {
			// Late narration never mutates a finished record.
			return
		}
		patch := domain.Patch{Activity: &u.Activity}
		if u.Progress != nil {
			patch.Progress = u.Progress
		}
		record, err := o.registry.Update(jobID, patch)
		if err != nil {
			return
		}
		o.hub.Publish(jobID, record)
	}
	onError := func(text string) {
		job, err := o.registry.Get(jobID)
		if err != nil || job.Status.Terminal() {
			return
		}
		record, err := o.registry.Update(jobID, domain.Patch{Error: &text})
		if err != nil {
			return
		}
		o.hub.Publish(jobID, record)
	}
	return progress.NewTracker(o.opts.FlushInterval, status, emit, onError)
}

// localArtifact maps a public /media/outputs/ URL back to its file on disk.
func (o *Orchestrator) localArtifact(publicPath string) string {
	return filepath.Join(o.opts.OutputDir, path.Base(publicPath))
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
