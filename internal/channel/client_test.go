package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newEchoServer answers identify with auth-success and closes the socket on
// a "bye" event.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Event {
			case "identify":
				_ = conn.WriteJSON(Envelope{Event: "auth-success", Data: json.RawMessage(`{"id":"u1","name":"Kim"}`)})
			case "bye":
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_EmitWithoutConnection(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", Options{Logger: zerolog.Nop()})
	if c.Connected() {
		t.Fatalf("expected unconnected client")
	}
	if err := c.Emit("command", map[string]string{"text": "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit error = %v, want ErrNotConnected", err)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(wsURL(srv), Options{Logger: zerolog.Nop()})

	got := make(chan json.RawMessage, 1)
	c.On("auth-success", func(p json.RawMessage) { got <- p })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer c.Close()

	if err := c.Emit("identify", map[string]string{"image": "abc", "lang": "ko-KR"}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	select {
	case p := <-got:
		var a struct{ ID, Name string }
		if err := json.Unmarshal(p, &a); err != nil {
			t.Fatalf("payload decode: %v", err)
		}
		if a.ID != "u1" || a.Name != "Kim" {
			t.Fatalf("unexpected payload %s", p)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for auth-success")
	}
}

func TestClient_DisconnectDispatched(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(wsURL(srv), Options{Logger: zerolog.Nop()})

	lost := make(chan struct{}, 1)
	c.On(EventDisconnect, func(json.RawMessage) { lost <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if err := c.Emit("bye", nil); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	select {
	case <-lost:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for disconnect")
	}
	if c.Connected() {
		t.Fatalf("expected client to be disconnected")
	}
	if err := c.Emit("command", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit after drop = %v, want ErrNotConnected", err)
	}
}

func TestClient_RunReconnects(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(wsURL(srv), Options{Logger: zerolog.Nop(), ReconnectDelay: 20 * time.Millisecond})

	connects := make(chan struct{}, 4)
	c.On(EventConnect, func(json.RawMessage) { connects <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	waitConnect := func() {
		t.Helper()
		select {
		case <-connects:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for connect")
		}
	}
	waitConnect()
	_ = c.Emit("bye", nil)
	waitConnect()

	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if c.Connected() {
		t.Fatalf("expected connection closed after Run returns")
	}
}
