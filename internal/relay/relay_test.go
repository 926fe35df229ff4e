package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishReachesConnectedObserver(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ObserverCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ObserverCount() != 1 {
		t.Fatalf("ObserverCount() = %d, want 1", hub.ObserverCount())
	}

	hub.Publish(TurnMessage("a1", "hello there"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var msg TerminalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Type != "turn" || msg.Agent != "a1" || msg.Text != "hello there" {
		t.Fatalf("msg = %+v, want turn/a1/hello there", msg)
	}
}

func TestPublishWithNoObserversIsNoop(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(TurnMessage("a1", "nobody's listening"))
}

func TestObserverCountDropsOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ObserverCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ObserverCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ObserverCount() != 0 {
		t.Fatalf("ObserverCount() = %d, want 0 after disconnect", hub.ObserverCount())
	}
}
