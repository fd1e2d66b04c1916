package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRelayEndToEnd(t *testing.T) {
	l := &fakeLauncher{gate: make(chan struct{})}
	h := NewHandler(Options{Launcher: l, Target: testTarget, Resolver: fakeResolver{}}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	var mu sync.Mutex
	var statuses []ServerMessage
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "", func(m ServerMessage) {
		mu.Lock()
		statuses = append(statuses, m)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	waitFor(t, "status frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) > 0
	})
	mu.Lock()
	first := statuses[0]
	mu.Unlock()
	if first.Type != TypeStatus || first.RTMPURL != "✓ Configurado" {
		t.Errorf("first frame = %+v", first)
	}

	if err := c.Start("audio/webm;codecs=opus"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, chunk := range []string{"one", "two", "three"} {
		if err := c.SendChunk([]byte(chunk)); err != nil {
			t.Fatalf("SendChunk: %v", err)
		}
	}
	waitFor(t, "session starting", func() bool { return h.Supervisor().Connections() == 1 })
	close(l.gate)

	if err := c.WaitAck(ctx); err != nil {
		t.Fatalf("WaitAck: %v", err)
	}
	waitFor(t, "flush", func() bool {
		p := l.launched()
		return len(p) == 1 && len(p[0].written()) == 3
	})
	w := l.launched()[0].written()
	if string(w[0]) != "one" || string(w[1]) != "two" || string(w[2]) != "three" {
		t.Errorf("encoder received %q", w)
	}

	c.Close()
	waitFor(t, "disconnect", func() bool { return h.Supervisor().Connections() == 0 })
	if !l.launched()[0].isStopped() {
		t.Error("encoder not stopped after disconnect")
	}
}

func TestRelayEndToEndMissingTarget(t *testing.T) {
	h := NewHandler(Options{Launcher: &fakeLauncher{}, Target: ""}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	c.Start("audio/webm")
	err = c.WaitAck(ctx)
	if err == nil || !strings.HasPrefix(err.Error(), "Destino RTMP não configurado") {
		t.Errorf("WaitAck err = %v, want missing target error", err)
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("connection not closed after start failure")
	}
}
