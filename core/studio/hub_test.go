package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RadioRoyal/core/mixer"

	"github.com/gorilla/websocket"
)

func readConsole(t *testing.T, conn *websocket.Conn) ConsoleMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ConsoleMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestConsoleHubDeliversStatusAndEvents(t *testing.T) {
	hub := NewConsoleHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, map[string]bool{"broadcasting": false})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readConsole(t, conn); msg.Type != MsgTypeStatus {
		t.Fatalf("first message type = %q, want status", msg.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("console never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.PublishEvent(mixer.Event{Type: mixer.EventEnded, Channel: mixer.Main, URL: "a.mp3"})
	msg := readConsole(t, conn)
	if msg.Type != MsgTypeEvent {
		t.Fatalf("type = %q, want event", msg.Type)
	}
	var ev eventData
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.URL != "a.mp3" || ev.Channel != mixer.Main {
		t.Errorf("event = %+v", ev)
	}
}

func TestConsoleHubClosesClientsOnShutdown(t *testing.T) {
	hub := NewConsoleHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, nil)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("console never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}
	if hub.Len() != 0 {
		t.Errorf("clients after shutdown = %d", hub.Len())
	}
}
