package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"assetgate/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const streamWriteTimeout = 10 * time.Second

type streamEvent struct {
	RequestID string          `json:"requestId"`
	State     models.JobState `json:"state"`
	URL       string          `json:"url,omitempty"`
}

// StreamJob pushes job state transitions over a websocket until the job
// reaches a terminal state or the client goes away.
func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if _, err := h.Jobs.Get(r.Context(), requestID); err != nil {
		writeError(w, http.StatusNotFound, "not_ready", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	states, cancel := h.Jobs.Subscribe(requestID)
	defer cancel()

	// Reader goroutine notices the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			event := streamEvent{RequestID: requestID, State: state}
			if state == models.JobCompleted {
				if job, err := h.Jobs.Get(r.Context(), requestID); err == nil && job.ResultURL != nil {
					event.URL = *job.ResultURL
				}
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if state.Terminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(state)))
				return
			}
		}
	}
}
