package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"autodubber/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The frontend is served from a different origin during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSender adapts a websocket connection to the hub. Heartbeats, replays,
// and broadcast deliveries write concurrently, so writes are serialized.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// wsInbound is the single message shape observers may send: confirming the
// transcription from the review screen.
type wsInbound struct {
	Action        string           `json:"action"`
	Transcription []domain.Segment `json:"transcription"`
	SpeedFactor   *float64         `json:"speed_factor"`
}

// handleWebsocket subscribes the connection to one job's update stream and
// services inbound confirmation messages until the peer disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}

	sender := &wsSender{conn: conn}
	s.hub.Subscribe(jobID, sender)
	defer func() {
		s.hub.Unsubscribe(jobID, sender)
		conn.Close()
	}()

	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "job_id", jobID, "error", err)
			}
			return
		}

		switch msg.Action {
		case "update_transcription":
			if err := s.pipeline.Confirm(jobID, msg.Transcription, msg.SpeedFactor); err != nil {
				_ = sender.Send(map[string]string{"type": "error", "error": err.Error()})
			}
		default:
			_ = sender.Send(map[string]string{"type": "error", "error": "unknown action: " + msg.Action})
		}
	}
}
