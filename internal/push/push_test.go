package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loreleaf/loreleaf/pkg/protocol"
)

var upgrader = websocket.Upgrader{}

func TestWsURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://host:8080", "ws://host:8080"},
		{"https://host", "wss://host"},
		{"http://host/", "ws://host"},
	}
	for _, tc := range tests {
		if got := wsURL(tc.in); got != tc.want {
			t.Errorf("wsURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	var gotAuth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		data, _ := json.Marshal(protocol.PushEvent{
			Type:   protocol.EventRenamed,
			NodeID: "n1",
			Name:   "renamed.txt",
		})
		conn.WriteMessage(websocket.TextMessage, data)

		// Malformed frames are dropped, not fatal.
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))

		data, _ = json.Marshal(protocol.PushEvent{Type: protocol.EventDeleted, NodeID: "n2"})
		conn.WriteMessage(websocket.TextMessage, data)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := New(ts.URL)
	sub.SetAuthToken("tok123")
	events := sub.Subscribe(ctx)

	first := waitEvent(t, events)
	if first.Type != protocol.EventRenamed || first.NodeID != "n1" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := waitEvent(t, events)
	if second.Type != protocol.EventDeleted || second.NodeID != "n2" {
		t.Fatalf("malformed frame should be skipped, got %+v", second)
	}

	if auth, _ := gotAuth.Load().(string); auth != "Bearer tok123" {
		t.Errorf("expected bearer header on connect, got %q", auth)
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return // channel closed on cancel
			}
		case <-deadline:
			t.Fatal("event channel should close after cancel")
		}
	}
}

func TestSubscribeReconnects(t *testing.T) {
	var conns int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Drop the first connection immediately.
			conn.Close()
			return
		}
		defer conn.Close()
		data, _ := json.Marshal(protocol.PushEvent{Type: protocol.EventCreated, NodeID: "after-reconnect"})
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hookCalls int32
	sub := New(ts.URL)
	sub.reconnectMin = 10 * time.Millisecond
	sub.SetOnConnect(func() { atomic.AddInt32(&hookCalls, 1) })
	events := sub.Subscribe(ctx)

	ev := waitEvent(t, events)
	if ev.NodeID != "after-reconnect" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if got := atomic.LoadInt32(&conns); got < 2 {
		t.Errorf("expected a reconnect, got %d connections", got)
	}
	if got := atomic.LoadInt32(&hookCalls); got < 2 {
		t.Errorf("the connect hook should fire on every connect, got %d", got)
	}
}

func waitEvent(t *testing.T, events <-chan protocol.PushEvent) protocol.PushEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
		return protocol.PushEvent{}
	}
}
