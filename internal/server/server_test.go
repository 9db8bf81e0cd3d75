package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodubber/internal/config"
	"autodubber/internal/domain"
	"autodubber/internal/hub"
	"autodubber/internal/jobs"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

type fakePipeline struct {
	mu         sync.Mutex
	started    []string
	confirmed  []string
	adjusted   map[string]float64
	confirmErr error
	adjustErr  error
}

func (p *fakePipeline) Start(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, jobID)
	return nil
}

func (p *fakePipeline) Confirm(jobID string, _ []domain.Segment, _ *float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return p.confirmErr
	}
	p.confirmed = append(p.confirmed, jobID)
	return nil
}

func (p *fakePipeline) AdjustSpeed(jobID string, factor float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adjustErr != nil {
		return p.adjustErr
	}
	if p.adjusted == nil {
		p.adjusted = make(map[string]float64)
	}
	p.adjusted[jobID] = factor
	return nil
}

type fakeVoices struct {
	voices []domain.Voice
	err    error
}

func (f *fakeVoices) Voices(context.Context, string) ([]domain.Voice, error) {
	return f.voices, f.err
}

type testEnv struct {
	server   *Server
	ts       *httptest.Server
	registry *jobs.Registry
	pipeline *fakePipeline
	voices   *fakeVoices
	cfg      config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.MediaDir = t.TempDir()
	require.NoError(t, cfg.EnsureDirs())

	registry := jobs.NewRegistry()
	pipeline := &fakePipeline{}
	voices := &fakeVoices{}
	srv := New(log, cfg, registry, hub.New(log, registry, time.Hour), pipeline, voices)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, ts: ts, registry: registry, pipeline: pipeline, voices: voices, cfg: cfg}
}

// uploadBody builds a multipart submission; empty field values are omitted.
func uploadBody(t *testing.T, filename, voiceID, speed string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte("not really a video"))
		require.NoError(t, err)
	}
	if voiceID != "" {
		require.NoError(t, mw.WriteField("voice_id", voiceID))
	}
	if speed != "" {
		require.NoError(t, mw.WriteField("speed_factor", speed))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, env *testEnv, filename, voiceID, speed, apiKey string) *http.Response {
	t.Helper()
	body, contentType := uploadBody(t, filename, voiceID, speed)
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/upload-video", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("xi-api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUploadCreatesJobAndStartsPipeline(t *testing.T) {
	env := newTestEnv(t)

	resp := postUpload(t, env, "talk.mp4", "voice-1", "1.1", testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)

	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "created", body["status"])

	job, err := env.registry.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, "talk.mp4", job.Filename)
	assert.Equal(t, "voice-1", job.VoiceID)
	assert.Equal(t, 1.1, job.SpeedFactor)
	assert.Equal(t, testAPIKey, job.APIKey)

	data, err := os.ReadFile(filepath.Join(env.cfg.UploadDir(), jobID+"_talk.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(data))

	env.pipeline.mu.Lock()
	assert.Equal(t, []string{jobID}, env.pipeline.started)
	env.pipeline.mu.Unlock()
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]struct {
		filename, voiceID, speed, apiKey string
	}{
		"missing voice":     {"talk.mp4", "", "1.0", testAPIKey},
		"missing api key":   {"talk.mp4", "voice-1", "1.0", ""},
		"short api key":     {"talk.mp4", "voice-1", "1.0", "tooshort"},
		"speed too low":     {"talk.mp4", "voice-1", "0.5", testAPIKey},
		"speed too high":    {"talk.mp4", "voice-1", "1.3", testAPIKey},
		"speed not numeric": {"talk.mp4", "voice-1", "fast", testAPIKey},
		"bad extension":     {"talk.mkv", "voice-1", "1.0", testAPIKey},
		"missing file":      {"", "voice-1", "1.0", testAPIKey},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postUpload(t, env, tc.filename, tc.voiceID, tc.speed, tc.apiKey)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		})
	}

	env.pipeline.mu.Lock()
	assert.Empty(t, env.pipeline.started, "rejected uploads never start the pipeline")
	env.pipeline.mu.Unlock()
}

func TestGetJobOmitsCredential(t *testing.T) {
	env := newTestEnv(t)
	id := env.registry.Create(domain.Job{
		Filename: "talk.mp4",
		Status:   domain.StatusTranscribing,
		APIKey:   testAPIKey,
	})

	resp, err := http.Get(env.ts.URL + "/jobs/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"job_id":"`+id+`"`)
	assert.NotContains(t, string(raw), testAPIKey)
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsKeyedByID(t *testing.T) {
	env := newTestEnv(t)
	a := env.registry.Create(domain.Job{Filename: "a.mp4", Status: domain.StatusCreated})
	b := env.registry.Create(domain.Job{Filename: "b.mp4", Status: domain.StatusCompleted})

	resp, err := http.Get(env.ts.URL + "/jobs")
	require.NoError(t, err)
	body := decodeJSON(t, resp)

	require.Len(t, body, 2)
	assert.Contains(t, body, a)
	assert.Contains(t, body, b)
}

func TestUpdateTranscription(t *testing.T) {
	env := newTestEnv(t)
	id := env.registry.Create(domain.Job{Status: domain.StatusAwaitingConfirmation})

	payload := `[{"start":0,"end":2,"text":"hello"}]`
	resp, err := http.Post(env.ts.URL+"/jobs/"+id+"/update-transcription", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	env.pipeline.mu.Lock()
	assert.Equal(t, []string{id}, env.pipeline.confirmed)
	env.pipeline.mu.Unlock()
}

func TestUpdateTranscriptionMapsErrors(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.confirmErr = &domain.ValidationError{Field: "status", Message: "job is not awaiting confirmation"}
	id := env.registry.Create(domain.Job{Status: domain.StatusCompleted})

	resp, err := http.Post(env.ts.URL+"/jobs/"+id+"/update-transcription", "application/json", strings.NewReader(`[{"text":"x"}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdjustSpeed(t *testing.T) {
	env := newTestEnv(t)
	id := env.registry.Create(domain.Job{Status: domain.StatusCompleted})

	resp, err := http.PostForm(env.ts.URL+"/jobs/"+id+"/adjust-speed", map[string][]string{"speed_factor": {"1.5"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	env.pipeline.mu.Lock()
	assert.Equal(t, 1.5, env.pipeline.adjusted[id])
	env.pipeline.mu.Unlock()

	resp, err = http.PostForm(env.ts.URL+"/jobs/"+id+"/adjust-speed", map[string][]string{"speed_factor": {"slow"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVoicesRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.voices.voices = []domain.Voice{{ID: "v1", Name: "Rachel"}}

	resp, err := http.Get(env.ts.URL + "/voices")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/voices", nil)
	require.NoError(t, err)
	req.Header.Set("xi-api-key", testAPIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	voices, ok := body["voices"].([]any)
	require.True(t, ok)
	assert.Len(t, voices, 1)
}

func TestFilePath(t *testing.T) {
	env := newTestEnv(t)
	id := env.registry.Create(domain.Job{
		Status:       domain.StatusCompleted,
		VideoPath:    "/media/outputs/job_output.mp4",
		SubtitlePath: filepath.Join(env.cfg.TempDir(), "job_subtitles.srt"),
	})

	t.Run("video", func(t *testing.T) {
		resp, err := http.Get(env.ts.URL + "/file-path/video/" + id)
		require.NoError(t, err)
		body := decodeJSON(t, resp)
		assert.Equal(t, "/media/outputs/job_output.mp4", body["file_path"])
	})

	t.Run("subtitles path is public", func(t *testing.T) {
		resp, err := http.Get(env.ts.URL + "/file-path/subtitles/" + id)
		require.NoError(t, err)
		body := decodeJSON(t, resp)
		assert.Equal(t, "/media/temp/job_subtitles.srt", body["file_path"])
	})

	t.Run("missing artifact", func(t *testing.T) {
		resp, err := http.Get(env.ts.URL + "/file-path/audio/" + id)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad type", func(t *testing.T) {
		resp, err := http.Get(env.ts.URL + "/file-path/thumbnail/" + id)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	body := decodeJSON(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestMediaStaticServing(t *testing.T) {
	env := newTestEnv(t)
	outPath := filepath.Join(env.cfg.OutputDir(), "job_output.mp4")
	require.NoError(t, os.WriteFile(outPath, []byte("final video"), 0o644))

	resp, err := http.Get(env.ts.URL + "/media/outputs/job_output.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "final video", string(data))
}

func TestWebsocketReplayAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	id := env.registry.Create(domain.Job{
		Filename: "talk.mp4",
		Status:   domain.StatusAwaitingConfirmation,
		Progress: 40,
	})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The current record is replayed immediately on subscribe.
	var replay map[string]any
	require.NoError(t, conn.ReadJSON(&replay))
	assert.Equal(t, id, replay["job_id"])
	assert.Equal(t, string(domain.StatusAwaitingConfirmation), replay["status"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":        "update_transcription",
		"transcription": []domain.Segment{{Start: 0, End: 1, Text: "hi"}},
	}))

	require.Eventually(t, func() bool {
		env.pipeline.mu.Lock()
		defer env.pipeline.mu.Unlock()
		return len(env.pipeline.confirmed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketUnknownJobNotice(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/ghost"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var notice map[string]any
	require.NoError(t, conn.ReadJSON(&notice))
	assert.Equal(t, "no_record", notice["type"])
}
