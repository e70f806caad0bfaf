package channel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/storydev/internal/logfields"
)

// TransportWebSocket labels websocket subscribers.
const TransportWebSocket = "websocket"

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 1 << 20
)

// WebSocketHandler is the bidirectional attach point: events published on the
// channel go out to the browser and events sent by the browser are dispatched
// to the channel listeners.
type WebSocketHandler struct {
	ch       *Channel
	upgrader websocket.Upgrader
}

// NewWebSocketHandler returns the websocket attach point for ch.
func NewWebSocketHandler(ch *Channel) *WebSocketHandler {
	return &WebSocketHandler{
		ch: ch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dev server: the preview iframe may be served from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", logfields.Error(err))
		return
	}
	sub := h.ch.Subscribe(TransportWebSocket)

	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

// readLoop owns reads on conn and ends the subscription when the peer goes away.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read", logfields.Error(err))
			}
			return
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
			slog.Debug("ignoring malformed client event", slog.Int("bytes", len(data)))
			continue
		}
		h.ch.Dispatch(evt)
	}
}

// writeLoop is the only writer on conn, so each frame goes out whole.
func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return
		case frame := <-sub.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sub.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}
