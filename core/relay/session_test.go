package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testTarget = "rtmp://127.0.0.1/live/key"

func newTestSession(l *fakeLauncher, sink *fakeSink, mut func(*Options)) *Session {
	opts := Options{Launcher: l, Target: testTarget, Resolver: fakeResolver{}}
	if mut != nil {
		mut(&opts)
	}
	return NewSession("127.0.0.1:5000", sink, opts, NewSupervisor())
}

func hasMessage(msgs []ServerMessage, typ string) bool {
	for _, m := range msgs {
		if m.Type == typ {
			return true
		}
	}
	return false
}

func TestChunksDuringStartupFlushAfterAckInOrder(t *testing.T) {
	log := &eventLog{}
	l := &fakeLauncher{log: log, gate: make(chan struct{})}
	sink := &fakeSink{log: log}
	s := newTestSession(l, sink, nil)

	s.HandleText(context.Background(), []byte(`{"type":"start","mimeType":"audio/webm;codecs=opus"}`))
	if got := s.State(); got != StateStarting {
		t.Fatalf("State() = %s, want starting", got)
	}
	s.HandleBinary([]byte("c1"))
	s.HandleBinary([]byte("c2"))
	s.HandleBinary([]byte("c3"))
	close(l.gate)

	waitFor(t, "streaming", func() bool { return s.State() == StateStreaming })

	want := []string{"send:ack", "write:c1", "write:c2", "write:c3"}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	s.HandleBinary([]byte("c4"))
	if w := l.launched()[0].written(); len(w) != 4 || string(w[3]) != "c4" {
		t.Errorf("writes after streaming = %q", w)
	}
}

func TestBinaryWhileIdleIsDropped(t *testing.T) {
	l := &fakeLauncher{}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.HandleBinary([]byte("orphan"))
	s.HandleBinary([]byte("orphan2"))

	if len(l.launched()) != 0 {
		t.Error("launcher called for idle binary frame")
	}
	if code, _ := sink.closed(); code != 0 {
		t.Errorf("connection closed with %d, want open", code)
	}
}

func TestStopThenStartSpawnsFreshProcess(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeSink{}, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "first stream", func() bool { return s.State() == StateStreaming })
	first := l.launched()[0]

	s.HandleText(context.Background(), []byte(`{"type":"stop"}`))
	if !first.isStopped() {
		t.Fatal("first process not stopped")
	}
	if s.State() != StateIdle {
		t.Errorf("State() after stop = %s, want idle", s.State())
	}

	s.Start(context.Background(), "audio/ogg")
	waitFor(t, "second stream", func() bool { return s.State() == StateStreaming })
	procs := l.launched()
	if len(procs) != 2 || procs[1] == first {
		t.Fatalf("launched %d processes, want a fresh second one", len(procs))
	}
	s.HandleBinary([]byte("x"))
	if len(first.written()) != 0 {
		t.Error("stopped process received data")
	}
}

func TestStartWhileStreamingReplacesProcess(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeSink{}, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "stream", func() bool { return s.State() == StateStreaming })
	s.Start(context.Background(), "audio/webm")
	waitFor(t, "second process", func() bool { return len(l.launched()) == 2 && s.State() == StateStreaming })

	if !l.launched()[0].isStopped() {
		t.Error("previous process still running after restart")
	}
}

func TestStopDuringStartupDiscardsLateProcess(t *testing.T) {
	l := &fakeLauncher{gate: make(chan struct{})}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.Start(context.Background(), "audio/webm")
	s.HandleBinary([]byte("queued"))
	s.Stop("client stop")
	close(l.gate)

	waitFor(t, "late process", func() bool { return len(l.launched()) == 1 })
	waitFor(t, "late process stopped", func() bool { return l.launched()[0].isStopped() })
	if hasMessage(sink.messages(), TypeAck) {
		t.Error("ack sent for a stopped session")
	}
	if len(l.launched()[0].written()) != 0 {
		t.Error("queued chunk flushed after stop")
	}
}

func TestDiscardedProcessStderrIsDrained(t *testing.T) {
	t.Run("stopped during startup", func(t *testing.T) {
		l := &fakeLauncher{gate: make(chan struct{}), holdLines: true}
		s := newTestSession(l, &fakeSink{}, nil)

		s.Start(context.Background(), "audio/webm")
		s.Stop("client stop")
		close(l.gate)

		waitFor(t, "late process stopped", func() bool {
			p := l.launched()
			return len(p) == 1 && p[0].isStopped()
		})
		if !l.launched()[0].emit(100, 2*time.Second) {
			t.Error("stderr of the discarded process is never read")
		}
	})

	t.Run("start timed out", func(t *testing.T) {
		l := &fakeLauncher{gate: make(chan struct{}), holdLines: true}
		sink := &fakeSink{}
		s := newTestSession(l, sink, func(o *Options) { o.StartTimeout = 20 * time.Millisecond })

		s.Start(context.Background(), "audio/webm")
		waitFor(t, "start failure", func() bool { code, _ := sink.closed(); return code == CloseInternalError })
		close(l.gate)

		waitFor(t, "late process stopped", func() bool {
			p := l.launched()
			return len(p) == 1 && p[0].isStopped()
		})
		if !l.launched()[0].emit(100, 2*time.Second) {
			t.Error("stderr of the timed out process is never read")
		}
	})
}

func TestReplacedProcessDiagnosticsNotForwarded(t *testing.T) {
	l := &fakeLauncher{holdLines: true}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "stream", func() bool { return s.State() == StateStreaming })
	s.Start(context.Background(), "audio/webm")
	waitFor(t, "second process", func() bool { return len(l.launched()) == 2 && s.State() == StateStreaming })

	old, cur := l.launched()[0], l.launched()[1]
	// unbuffered: the second send returns only after the first line was handled
	old.lines <- "old-1"
	old.lines <- "old-2"
	cur.lines <- "new-1"
	cur.lines <- "new-2"

	waitFor(t, "current diagnostics", func() bool {
		for _, m := range sink.messages() {
			if m.Type == TypeFFmpegOutput && m.Message == "new-1" {
				return true
			}
		}
		return false
	})
	for _, m := range sink.messages() {
		if m.Type == TypeFFmpegOutput && strings.HasPrefix(m.Message, "old-") {
			t.Errorf("forwarded %q from the replaced process", m.Message)
		}
	}
}

func TestMissingTargetFailsStart(t *testing.T) {
	l := &fakeLauncher{}
	sink := &fakeSink{}
	s := newTestSession(l, sink, func(o *Options) { o.Target = "" })

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "close", func() bool { code, _ := sink.closed(); return code != 0 })

	msgs := sink.messages()
	if len(msgs) == 0 || msgs[0].Type != TypeError {
		t.Fatalf("messages = %+v, want error frame", msgs)
	}
	if !strings.HasPrefix(msgs[0].Message, "Destino RTMP não configurado") {
		t.Errorf("error message = %q", msgs[0].Message)
	}
	if code, reason := sink.closed(); code != CloseInternalError || reason != "ffmpeg start failure" {
		t.Errorf("close = %d %q", code, reason)
	}
	if len(l.launched()) != 0 {
		t.Error("encoder spawned without a target")
	}
}

func TestLaunchFailureReported(t *testing.T) {
	l := &fakeLauncher{err: errors.New("exec: not found")}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "close", func() bool { code, _ := sink.closed(); return code == CloseInternalError })
	if !hasMessage(sink.messages(), TypeError) {
		t.Error("no error frame on launch failure")
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %s, want idle", s.State())
	}
}

func TestUnexpectedExitClosesConnection(t *testing.T) {
	l := &fakeLauncher{}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "stream", func() bool { return s.State() == StateStreaming })
	l.launched()[0].exit(errors.New("broken pipe"))

	waitFor(t, "close", func() bool { code, _ := sink.closed(); return code == CloseInternalError })
	var errMsg string
	for _, m := range sink.messages() {
		if m.Type == TypeError {
			errMsg = m.Message
		}
	}
	if !strings.HasPrefix(errMsg, "FFmpeg encerrou") {
		t.Errorf("error frame = %q", errMsg)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %s, want idle", s.State())
	}
}

func TestPendingQueueBound(t *testing.T) {
	l := &fakeLauncher{gate: make(chan struct{})}
	sink := &fakeSink{}
	s := newTestSession(l, sink, func(o *Options) { o.MaxPending = 10 })

	s.Start(context.Background(), "audio/webm")
	s.HandleBinary(make([]byte, 8))
	s.HandleBinary(make([]byte, 8))

	if code, _ := sink.closed(); code != CloseInternalError {
		t.Errorf("close code = %d, want 1011 on overflow", code)
	}
	close(l.gate)
	waitFor(t, "late process stopped", func() bool {
		p := l.launched()
		return len(p) == 1 && p[0].isStopped()
	})
}

func TestDiagnosticsDedupedAndForwarded(t *testing.T) {
	l := &fakeLauncher{}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "stream", func() bool { return s.State() == StateStreaming })
	p := l.launched()[0]
	p.lines <- "frame=1"
	p.lines <- "frame=1"
	p.lines <- "frame=2"

	var out []string
	waitFor(t, "two diagnostics", func() bool {
		out = out[:0]
		for _, m := range sink.messages() {
			if m.Type == TypeFFmpegOutput {
				out = append(out, m.Message)
			}
		}
		return len(out) >= 2
	})
	if len(out) != 2 || out[0] != "frame=1" || out[1] != "frame=2" {
		t.Errorf("forwarded = %v, want [frame=1 frame=2]", out)
	}
}

func TestCloseStopsEncoderAndUnregisters(t *testing.T) {
	l := &fakeLauncher{}
	sv := NewSupervisor()
	s := NewSession("r", &fakeSink{}, Options{Launcher: l, Target: testTarget}, sv)
	sv.Register(s)

	s.Start(context.Background(), "audio/webm")
	waitFor(t, "stream", func() bool { return s.State() == StateStreaming })
	if id, ok := sv.Broadcaster(); !ok || id != s.ID() {
		t.Errorf("Broadcaster() = %q, %v", id, ok)
	}

	s.Close()
	if !l.launched()[0].isStopped() {
		t.Error("encoder still running after close")
	}
	if sv.Connections() != 0 {
		t.Errorf("Connections() = %d, want 0", sv.Connections())
	}
	if _, ok := sv.Broadcaster(); ok {
		t.Error("closed session still broadcaster")
	}
}

func TestMalformedControlIgnored(t *testing.T) {
	l := &fakeLauncher{}
	sink := &fakeSink{}
	s := newTestSession(l, sink, nil)
	s.HandleText(context.Background(), []byte("{not json"))
	s.HandleText(context.Background(), []byte(`{"type":"dance"}`))
	if s.State() != StateIdle || len(sink.messages()) != 0 {
		t.Errorf("state = %s messages = %v", s.State(), sink.messages())
	}
}
