package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"autodubber/internal/domain"
)

var validate = validator.New()

// maxUploadBytes bounds the multipart form held in memory plus temp files.
const maxUploadBytes = 500 << 20

// allowedExtensions are the accepted upload container formats.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
}

// uploadRequest carries the non-file fields of a submission.
type uploadRequest struct {
	VoiceID     string  `validate:"required"`
	SpeedFactor float64 `validate:"gte=0.7,lte=1.2"`
	APIKey      string  `validate:"required,min=32"`
}

func (r *uploadRequest) Validate() error {
	return validate.Struct(r)
}

// handleUpload accepts a video with its dubbing parameters, stores the file,
// creates the job record, and starts the pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, &domain.ValidationError{Field: "body", Message: "cannot parse multipart form"})
		return
	}

	req := uploadRequest{
		VoiceID:     r.FormValue("voice_id"),
		SpeedFactor: 1.0,
		APIKey:      r.Header.Get("xi-api-key"),
	}
	if req.APIKey == "" {
		req.APIKey = r.FormValue("api_key")
	}
	if raw := r.FormValue("speed_factor"); raw != "" {
		factor, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.errorResponse(w, &domain.ValidationError{Field: "speed_factor", Message: "must be a number"})
			return
		}
		req.SpeedFactor = factor
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, &domain.ValidationError{Field: "request", Message: err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, &domain.ValidationError{Field: "file", Message: "video file is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		s.errorResponse(w, &domain.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file type %s (allowed: mp4, mov, avi, webm)", ext),
		})
		return
	}

	jobID := uuid.NewString()
	sourcePath := filepath.Join(s.cfg.UploadDir(), jobID+"_"+filepath.Base(header.Filename))
	if err := saveUpload(file, sourcePath); err != nil {
		s.log.Error("storing upload", "error", err)
		s.errorResponse(w, errors.New("cannot store uploaded file"))
		return
	}

	s.registry.Create(domain.Job{
		ID:          jobID,
		Filename:    header.Filename,
		Status:      domain.StatusCreated,
		APIKey:      req.APIKey,
		VoiceID:     req.VoiceID,
		SpeedFactor: req.SpeedFactor,
		SourcePath:  sourcePath,
	})

	record, err := s.registry.Get(jobID)
	if err == nil {
		s.hub.Publish(jobID, record)
	}

	if err := s.pipeline.Start(jobID); err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"job_id":   jobID,
		"status":   string(domain.StatusCreated),
		"filename": header.Filename,
	})
}

func saveUpload(src io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

// handleListJobs returns every job keyed by identifier.
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.registry.List()
	out := make(map[string]domain.Job, len(jobs))
	for _, job := range jobs {
		out[job.ID] = job
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleUpdateTranscription confirms the reviewed transcription and resumes
// the pipeline.
func (s *Server) handleUpdateTranscription(w http.ResponseWriter, r *http.Request) {
	var segments []domain.Segment
	if err := json.NewDecoder(r.Body).Decode(&segments); err != nil {
		s.errorResponse(w, &domain.ValidationError{Field: "transcription", Message: "body must be a JSON array of segments"})
		return
	}

	jobID := r.PathValue("id")
	if err := s.pipeline.Confirm(jobID, segments, nil); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(domain.StatusConfirmed),
	})
}

// handleAdjustSpeed re-times a completed job's voiceover.
func (s *Server) handleAdjustSpeed(w http.ResponseWriter, r *http.Request) {
	factor, err := strconv.ParseFloat(r.FormValue("speed_factor"), 64)
	if err != nil {
		s.errorResponse(w, &domain.ValidationError{Field: "speed_factor", Message: "must be a number"})
		return
	}

	jobID := r.PathValue("id")
	if err := s.pipeline.AdjustSpeed(jobID, factor); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(domain.StatusAdjustingSpeed),
	})
}

// handleVoices proxies the provider's voice listing.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("xi-api-key")
	if apiKey == "" {
		s.errorResponse(w, &domain.ValidationError{Field: "xi-api-key", Message: "API key header is required"})
		return
	}

	voices, err := s.voices.Voices(r.Context(), apiKey)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"voices": voices})
}

// handleFilePath resolves a job artifact to its public URL.
func (s *Server) handleFilePath(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	kind := r.PathValue("type")
	var location string
	switch kind {
	case "video":
		location = job.VideoPath
	case "audio":
		location = job.AudioPath
	case "subtitles":
		// Subtitles are stored as a filesystem path in the temp tree.
		if job.SubtitlePath != "" {
			location = "/media/temp/" + path.Base(filepath.ToSlash(job.SubtitlePath))
		}
	default:
		s.errorResponse(w, &domain.ValidationError{
			Field:   "type",
			Message: "type must be one of video, audio, subtitles",
		})
		return
	}

	if location == "" {
		s.errorResponse(w, &domain.NotFoundError{Resource: kind + " file", ID: job.ID})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"file_path": location})
}
