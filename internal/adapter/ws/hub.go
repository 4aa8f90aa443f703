// Package ws implements the WebSocket hub that mirrors routed run events to
// connected admin clients. Broadcasting is best-effort and never blocks the
// event path.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RunEvent is the payload broadcast for every routed event.
type RunEvent struct {
	RunID    string `json:"run_id"`
	Sequence int64  `json:"sequence"`
	Type     string `json:"type"`
}

// RunStatus is the payload broadcast when a run changes status.
type RunStatus struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// sendQueueSize bounds each client's outbound queue. Broadcasts beyond it
// are dropped for that client rather than stalling the event path.
const sendQueueSize = 32

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte
}

// Hub manages active WebSocket connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// HandleWS upgrades the request to a WebSocket connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, send: make(chan []byte, sendQueueSize)}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Writer drains the send queue so broadcasters never wait on this
	// client's socket.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-c.send:
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	}()

	// Read loop to detect disconnects and consume pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// BroadcastRunEvent mirrors one routed event to all clients.
func (h *Hub) BroadcastRunEvent(_ context.Context, ev RunEvent) {
	h.broadcast("run.event", ev)
}

// BroadcastRunStatus mirrors a run status change to all clients.
func (h *Hub) BroadcastRunStatus(_ context.Context, st RunStatus) {
	h.broadcast("run.status", st)
}

func (h *Hub) broadcast(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			slog.Debug("websocket client lagging, message dropped")
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
