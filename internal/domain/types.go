package domain

import "time"

// JobStatus tracks each lifecycle stage of a single dubbing job.
type JobStatus string

const (
	StatusCreated              JobStatus = "created"
	StatusExtractingMedia      JobStatus = "extracting_media"
	StatusTranscribing         JobStatus = "transcribing"
	StatusAwaitingConfirmation JobStatus = "awaiting_confirmation"
	StatusConfirmed            JobStatus = "confirmed"
	StatusSynthesizing         JobStatus = "synthesizing"
	StatusAssemblingAudio      JobStatus = "assembling_audio"
	StatusAssemblingVideo      JobStatus = "assembling_video"
	StatusCompleted            JobStatus = "completed"
	StatusError                JobStatus = "error"
	StatusAdjustingSpeed       JobStatus = "adjusting_speed"
	StatusRenderingAdjusted    JobStatus = "rendering_adjusted"
)

// Terminal reports whether a job in this status will never advance again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// StatusMessages provides default human-readable activity text per status,
// used when a job record carries no fresher activity line.
var StatusMessages = map[JobStatus]string{
	StatusCreated:              "File uploaded, waiting to process",
	StatusExtractingMedia:      "Extracting audio from video",
	StatusTranscribing:         "Transcribing audio",
	StatusAwaitingConfirmation: "Transcription ready for review",
	StatusConfirmed:            "Transcription confirmed, generating voiceover",
	StatusSynthesizing:         "Generating AI voiceover",
	StatusAssemblingAudio:      "Assembling audio segments",
	StatusAssemblingVideo:      "Creating final video with voiceover",
	StatusAdjustingSpeed:       "Adjusting audio speed",
	StatusRenderingAdjusted:    "Creating video with adjusted audio",
	StatusCompleted:            "Processing complete",
	StatusError:                "Error occurred during processing",
}

// Segment is one timed piece of transcribed or edited speech. Times are in
// seconds from the start of the source video.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Clip references one synthesized audio file positioned on the timeline.
type Clip struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Path  string  `json:"path"`
}

// Voice describes one synthesis voice offered by the TTS provider.
type Voice struct {
	ID          string `json:"voice_id"`
	Name        string `json:"name"`
	PreviewURL  string `json:"preview_url"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Job stores the full mutable state of one dubbing job. The provider
// credential and filesystem working paths are excluded from JSON so they
// never appear in a broadcast or query response.
type Job struct {
	ID            string     `json:"job_id"`
	Filename      string     `json:"filename"`
	Status        JobStatus  `json:"status"`
	Progress      float64    `json:"progress"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	Activity      string     `json:"current_activity,omitempty"`
	VideoPath     string     `json:"video_path,omitempty"`
	AudioPath     string     `json:"audio_path,omitempty"`
	SubtitlePath  string     `json:"srt_path,omitempty"`
	Transcription []Segment  `json:"transcription,omitempty"`
	VoiceID       string     `json:"voice_id,omitempty"`
	SpeedFactor   float64    `json:"speed_factor"`

	// APIKey is the TTS provider credential supplied at submission. Never
	// serialized.
	APIKey string `json:"-"`
	// SourcePath is the absolute path of the uploaded video on disk.
	SourcePath string `json:"-"`
}

// Patch lists job fields to overwrite during a registry update. Nil fields
// are left untouched; the registry performs no validation.
type Patch struct {
	Status        *JobStatus
	Progress      *float64
	Activity      *string
	Error         *string
	FinishedAt    *time.Time
	VideoPath     *string
	AudioPath     *string
	SubtitlePath  *string
	Transcription []Segment
	SpeedFactor   *float64
}
