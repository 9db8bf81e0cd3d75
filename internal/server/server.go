// Package server exposes the dubbing engine over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autodubber/internal/config"
	"autodubber/internal/domain"
	"autodubber/internal/hub"
	"autodubber/internal/jobs"
)

// Pipeline is the slice of the orchestrator the handlers drive.
type Pipeline interface {
	Start(jobID string) error
	Confirm(jobID string, segments []domain.Segment, speed *float64) error
	AdjustSpeed(jobID string, factor float64) error
}

// VoiceLister fetches the synthesis voices available to a credential.
type VoiceLister interface {
	Voices(ctx context.Context, apiKey string) ([]domain.Voice, error)
}

// Server holds the HTTP server and its collaborators.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
	cfg        config.Config
	registry   *jobs.Registry
	hub        *hub.Hub
	pipeline   Pipeline
	voices     VoiceLister
}

// New builds the server and its route table.
func New(log *slog.Logger, cfg config.Config, registry *jobs.Registry, h *hub.Hub, pipeline Pipeline, voices VoiceLister) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		registry: registry,
		hub:      h,
		pipeline: pipeline,
		voices:   voices,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload-video", s.handleUpload)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/update-transcription", s.handleUpdateTranscription)
	mux.HandleFunc("POST /jobs/{id}/adjust-speed", s.handleAdjustSpeed)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /file-path/{type}/{id}", s.handleFilePath)
	mux.HandleFunc("GET /ws/{id}", s.handleWebsocket)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Minute, // large video uploads
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-stop:
	}

	s.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// withCORS allows browser frontends on any origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, xi-api-key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON body with the given status.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("encoding response", "error", err)
	}
}

// errorResponse maps an error through the taxonomy and writes it as JSON.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	s.jsonResponse(w, domain.HTTPStatus(err), map[string]string{"error": err.Error()})
}
