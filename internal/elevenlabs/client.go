// Package elevenlabs is a thin HTTP client for the ElevenLabs TTS API,
// covering per-segment speech synthesis and voice listing.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autodubber/internal/domain"
	"autodubber/internal/progress"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.elevenlabs.io"

// defaultModelID selects the multilingual synthesis model.
const defaultModelID = "eleven_multilingual_v2"

// VoiceSettings tunes synthesis expressiveness and pacing.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

// DefaultVoiceSettings returns the tuning used for dubbing voiceovers.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.7,
		SimilarityBoost: 0.75,
		Style:           0,
		UseSpeakerBoost: true,
		Speed:           1.0,
	}
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	settings   VoiceSettings
	writeFile  func(name string, data []byte, perm os.FileMode) error
}

// NewClient creates a client against the given base URL (the production
// endpoint when empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		settings:   DefaultVoiceSettings(),
		writeFile:  os.WriteFile,
	}
}

// synthesisRequest is the text-to-speech request body.
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Synthesize generates one audio clip per segment, writing MP3 files into
// outDir. A segment whose synthesis fails is skipped with error narration;
// the call fails only when no segment could be synthesized.
func (c *Client) Synthesize(ctx context.Context, sink progress.Sink, apiKey string, segments []domain.Segment, voiceID string, speed float64, outDir string) ([]domain.Clip, error) {
	sink.Progressf("Generating TTS with ElevenLabs voice ID %s (speed factor: %g)", voiceID, speed)

	settings := c.settings
	settings.Speed = speed

	totalChars := 0
	for _, seg := range segments {
		totalChars += len(strings.TrimSpace(seg.Text))
	}
	sink.Progressf("Starting TTS generation for %d segments, %d total characters", len(segments), totalChars)

	clips := make([]domain.Clip, 0, len(segments))
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			sink.Progressf("Skipping empty segment %d", i+1)
			continue
		}

		sink.Progressf("TTS generating segment %d/%d - %q", i+1, len(segments), truncate(text, 50))

		audio, err := c.synthesizeOne(ctx, apiKey, voiceID, text, settings)
		if err != nil {
			sink.Errorf("TTS generation failed for segment %d: %v", i+1, err)
			continue
		}

		clipPath := filepath.Join(outDir, fmt.Sprintf("segment_%04d.mp3", i))
		if err := c.writeFile(clipPath, audio, 0o644); err != nil {
			sink.Errorf("TTS generation failed for segment %d: %v", i+1, err)
			continue
		}

		clips = append(clips, domain.Clip{Start: seg.Start, End: seg.End, Path: clipPath})
	}

	if len(clips) == 0 {
		return nil, &domain.CollaboratorError{
			Stage:   "synthesize",
			Message: "failed to generate TTS audio for any segment",
		}
	}

	sink.Progressf("TTS generation complete for all %d segments", len(segments))
	return clips, nil
}

// synthesizeOne performs a single text-to-speech request.
func (c *Client) synthesizeOne(ctx context.Context, apiKey, voiceID, text string, settings VoiceSettings) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       defaultModelID,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// voicesResponse mirrors the voice listing payload.
type voicesResponse struct {
	Voices []domain.Voice `json:"voices"`
}

// Voices lists the synthesis voices available to the credential.
func (c *Client) Voices(ctx context.Context, apiKey string) ([]domain.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.CollaboratorError{
			Stage:   "list_voices",
			Message: "cannot reach TTS provider",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.CollaboratorError{
			Stage:   "list_voices",
			Message: apiError(resp).Error(),
		}
	}

	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.CollaboratorError{
			Stage:   "list_voices",
			Message: "cannot parse voice listing",
			Err:     err,
		}
	}
	return out.Voices, nil
}

// apiError extracts a short provider error from a non-200 response.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, detail)
}

// truncate shortens narration text to keep activity labels readable.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
