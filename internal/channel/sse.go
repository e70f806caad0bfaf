package channel

import (
	"bufio"
	"log/slog"
	"net/http"
	"time"
)

// TransportSSE labels server-sent-event subscribers.
const TransportSSE = "sse"

// SSEHandler streams channel events as server-sent events.
type SSEHandler struct {
	ch        *Channel
	heartbeat time.Duration
}

// NewSSEHandler returns the SSE attach point for ch.
func NewSSEHandler(ch *Channel) *SSEHandler {
	return &SSEHandler{ch: ch, heartbeat: 30 * time.Second}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.ch.Subscribe(TransportSSE)
	defer sub.Close()
	select {
	case <-sub.Done():
		http.Error(w, "channel shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(": connected\n\n"); err != nil {
		slog.Debug("sse write", "error", err)
		return
	}
	if err := bw.Flush(); err == nil {
		flusher.Flush()
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-hb.C:
			if _, err := bw.WriteString(": ping\n\n"); err != nil {
				slog.Debug("sse ping write", "error", err)
				return
			}
			if err := bw.Flush(); err != nil {
				return
			}
			flusher.Flush()
		case frame := <-sub.Frames():
			// One event per data line; frames never contain raw newlines.
			if _, err := bw.WriteString("data: " + string(frame) + "\n\n"); err != nil {
				slog.Debug("sse event write", "error", err)
				return
			}
			if err := bw.Flush(); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
