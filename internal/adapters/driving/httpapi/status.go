package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

const (
	statusBuffer       = 64
	statusWriteTimeout = 10 * time.Second
	statusPingInterval = 30 * time.Second
)

// Status stream message types.
const (
	TypeFileStatusUpdate = "file_status_update"
	TypeSubscribed       = "subscribed"
	TypePong             = "pong"
	TypeError            = "error"
)

// statusMessage is a frame on the status stream.
type statusMessage struct {
	Type         string                  `json:"type"`
	FileID       string                  `json:"file_id,omitempty"`
	DataSourceID string                  `json:"data_source_id,omitempty"`
	JobID        string                  `json:"job_id,omitempty"`
	Status       domain.DataSourceStatus `json:"status,omitempty"`
	Progress     int                     `json:"progress"`
	Error        string                  `json:"error,omitempty"`
	Message      string                  `json:"message,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

func eventMessage(ev domain.StatusEvent) statusMessage {
	return statusMessage{
		Type:         TypeFileStatusUpdate,
		FileID:       ev.DataSourceID,
		DataSourceID: ev.DataSourceID,
		JobID:        ev.JobID,
		Status:       ev.Status,
		Progress:     ev.Progress,
		Error:        ev.Error,
		Timestamp:    ev.Timestamp,
	}
}

// statusStream upgrades to a websocket and forwards the business's status
// events until either side closes.
func (s *Server) statusStream(w http.ResponseWriter, r *http.Request) {
	if s.svc.Status == nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	business := chi.URLParam(r, "business")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("status stream upgrade: %v", err)
		return
	}
	defer ws.Close()

	events, cancel := s.svc.Status.Subscribe(business, statusBuffer)
	defer cancel()
	logger.Debug("status subscriber for %s connected", business)

	replies := make(chan statusMessage, 4)
	done := make(chan struct{})
	go readStatusClient(ws, 2*statusPingInterval, replies, done)

	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	for {
		var msg statusMessage
		select {
		case <-done:
			logger.Debug("status subscriber for %s disconnected", business)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg = eventMessage(ev)
		case msg = <-replies:
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(statusWriteTimeout)) //nolint:errcheck
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(statusWriteTimeout)) //nolint:errcheck
		if err := ws.WriteJSON(msg); err != nil {
			logger.Debug("status stream write: %v", err)
			return
		}
	}
}

// readStatusClient answers client ping and subscribe messages. It closes
// done when the connection fails or nothing, not even a pong, arrives
// within pongWait.
func readStatusClient(ws *websocket.Conn, pongWait time.Duration, replies chan<- statusMessage, done chan<- struct{}) {
	defer close(done)
	ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		var in struct {
			Type string `json:"type"`
		}
		reply := statusMessage{Timestamp: time.Now().UTC()}
		switch {
		case json.Unmarshal(raw, &in) != nil:
			reply.Type, reply.Message = TypeError, "invalid JSON format"
		case in.Type == "ping":
			reply.Type = TypePong
		case in.Type == "subscribe":
			reply.Type, reply.Message = TypeSubscribed, "subscribed to updates"
		default:
			reply.Type, reply.Message = TypeError, "unknown message type: "+in.Type
		}
		select {
		case replies <- reply:
		default:
		}
	}
}
