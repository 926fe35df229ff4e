// Package relay broadcasts sanitized orchestration turns over a local
// websocket, so a passive observer (a dashboard, a log-shipper) can watch
// a session without attaching to any agent's PTY.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// TerminalMessage is one published event: an agent's turn, or a session
// lifecycle notice.
type TerminalMessage struct {
	Type  string `json:"type"`
	Agent string `json:"agent,omitempty"`
	Text  string `json:"text,omitempty"`
}

// TurnMessage reports a sanitized agent reply.
func TurnMessage(agent, text string) TerminalMessage {
	return TerminalMessage{Type: "turn", Agent: agent, Text: text}
}

// StatusMessage reports an agent's running/stopped transition.
func StatusMessage(agent, status string) TerminalMessage {
	return TerminalMessage{Type: "status", Agent: agent, Text: status}
}

// observer is one connected websocket client, buffered so a slow reader
// never blocks the broadcaster.
type observer struct {
	ch     chan TerminalMessage
	closed bool
	mu     sync.RWMutex
}

func newObserver() *observer {
	return &observer{ch: make(chan TerminalMessage, 64)}
}

// send drops the message rather than block when the observer's buffer is
// full — a stalled viewer must never slow the orchestration loop down.
func (o *observer) send(msg TerminalMessage) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- msg:
	default:
	}
}

func (o *observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Hub accepts websocket connections and fans every published message out
// to every connected observer.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu        sync.Mutex
	observers map[*observer]struct{}
}

// NewHub creates an empty broadcast hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		observers: make(map[*observer]struct{}),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Publish fans msg out to every connected observer.
func (h *Hub) Publish(msg TerminalMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		o.send(msg)
	}
}

// ServeHTTP upgrades the connection and streams published messages to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	o := newObserver()
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.observers, o)
		h.mu.Unlock()
		o.close()
	}()

	// Drain inbound frames (observers are read-only) so the connection's
	// close is detected promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				o.close()
				return
			}
		}
	}()

	for msg := range o.ch {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ObserverCount reports how many observers are currently connected.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}
