package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// eventLog records sink frames and encoder writes in one ordered stream.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSink struct {
	log       *eventLog
	mu        sync.Mutex
	msgs      []ServerMessage
	closeCode int
	reason    string
}

func (s *fakeSink) Send(msg ServerMessage) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("send:" + msg.Type)
	}
	return nil
}

func (s *fakeSink) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode == 0 {
		s.closeCode = code
		s.reason = reason
	}
	return nil
}

func (s *fakeSink) messages() []ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServerMessage(nil), s.msgs...)
}

func (s *fakeSink) closed() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.reason
}

type fakeProcess struct {
	log     *eventLog
	mu      sync.Mutex
	writes  [][]byte
	stopped bool
	lines   chan string
	done    chan struct{}
	err     error
	once    sync.Once

	// holdLines keeps stderr open after Stop, like a real encoder that is
	// still flushing; lines is unbuffered so every send waits for a reader.
	holdLines bool
}

func newFakeProcess(log *eventLog) *fakeProcess {
	return &fakeProcess{log: log, lines: make(chan string, 16), done: make(chan struct{})}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0, errors.New("stdin closed")
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if p.log != nil {
		p.log.add("write:" + string(b))
	}
	return len(b), nil
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stopped = true
	hold := p.holdLines
	p.mu.Unlock()
	if !hold {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.lines)
		close(p.done)
	})
}

func (p *fakeProcess) Lines() <-chan string  { return p.lines }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }
func (p *fakeProcess) PID() int              { return 4242 }

func (p *fakeProcess) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func (p *fakeProcess) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeLauncher struct {
	log       *eventLog
	gate      chan struct{}
	err       error
	holdLines bool
	mu        sync.Mutex
	procs     []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context, inputFormat, target string) (Process, error) {
	if l.gate != nil {
		<-l.gate
	}
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(l.log)
	if l.holdLines {
		p.holdLines = true
		p.lines = make(chan string)
	}
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) launched() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...)
}

type fakeResolver struct{ fail bool }

func (r fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.fail {
		return nil, errors.New("no such host")
	}
	return []string{"10.0.0.1"}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// emit sends n stderr lines and reports whether something read them all.
func (p *fakeProcess) emit(n int, within time.Duration) bool {
	sent := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			p.lines <- fmt.Sprintf("size=%dkB", i)
		}
		close(sent)
	}()
	select {
	case <-sent:
		return true
	case <-time.After(within):
		return false
	}
}
