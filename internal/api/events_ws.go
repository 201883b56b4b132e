package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"reconf/internal/event"
	"reconf/internal/logging"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsEventBuffer     = 64
)

type eventPayload struct {
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	OldPath   string    `json:"old_path,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEventPayload(change event.ConfigChangeEvent) eventPayload {
	return eventPayload{
		Kind:      change.Kind.String(),
		Path:      change.Path,
		OldPath:   change.OldPath,
		Checksum:  change.Checksum,
		Timestamp: change.OccurredAt,
	}
}

// eventStreamHandler streams dispatched ConfigChangeEvents over a
// websocket. The bus handler only enqueues; the write loop runs on its own
// goroutine so a slow client stalls nobody else.
type eventStreamHandler struct {
	Bus       *event.Bus
	Logger    *logging.Logger
	AuthToken string
}

func (h *eventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusInternalServerError)
		return
	}

	output := make(chan event.ConfigChangeEvent, wsEventBuffer)
	handlerID := h.Bus.Register(event.KindAny, func(change event.ConfigChangeEvent) {
		select {
		case output <- change:
		default:
		}
	})
	defer h.Bus.Unregister(handlerID)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case change := <-output:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(newEventPayload(change)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
