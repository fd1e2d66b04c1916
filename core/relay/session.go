package relay

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"RadioRoyal/logger"

	"github.com/google/uuid"
)

// State 会话状态
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateStopping  State = "stopping"
)

// Options configure every session created by a Handler.
type Options struct {
	Launcher     Launcher
	Target       string
	Resolver     HostResolver
	MaxPending   int
	StartTimeout time.Duration
	Observer     Observer
}

func (o Options) withDefaults() Options {
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 8 << 20
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 10 * time.Second
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Session is one relay connection. It owns at most one encoder process.
type Session struct {
	id     string
	remote string
	sink   Sink
	opts   Options
	sv     *Supervisor

	mu           sync.Mutex
	state        State
	encoding     string
	proc         Process
	pending      [][]byte
	pendingBytes int
	gen          uint64
	closed       bool
	dropped      int

	broadcast SessionInfo
}

// NewSession creates an idle session.
func NewSession(remote string, sink Sink, opts Options, sv *Supervisor) *Session {
	if sv == nil {
		sv = NewSupervisor()
	}
	return &Session{
		id:     uuid.NewString(),
		remote: remote,
		sink:   sink,
		opts:   opts.withDefaults(),
		sv:     sv,
		state:  StateIdle,
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleText dispatches a JSON control frame. Unknown or malformed frames are ignored.
func (s *Session) HandleText(ctx context.Context, data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("Mensagem de controle inválida", logger.String("session", s.id), logger.ErrorField(err))
		return
	}
	switch msg.Type {
	case TypeStart:
		s.Start(ctx, msg.MimeType)
	case TypeStop:
		s.Stop("client stop")
	default:
		logger.Warn("Tipo de mensagem desconhecido", logger.String("session", s.id), logger.String("type", msg.Type))
	}
}

// Start validates the target and spawns the encoder asynchronously; binary
// frames arriving meanwhile are queued and flushed in order after the ack.
func (s *Session) Start(ctx context.Context, mimeType string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.proc != nil || s.state == StateStarting {
		s.stopLocked("restart")
	}
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.encoding = InputFormat(mimeType)
	s.pending = nil
	s.pendingBytes = 0
	encoding := s.encoding
	s.mu.Unlock()

	logger.Info("Iniciando ffmpeg", logger.String("session", s.id), logger.String("format", encoding))
	go s.launch(ctx, gen, encoding)
}

func (s *Session) launch(ctx context.Context, gen uint64, encoding string) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()

	if err := ValidateTarget(ctx, s.opts.Target, s.opts.Resolver); err != nil {
		s.failStart(gen, err)
		return
	}

	type launched struct {
		proc Process
		err  error
	}
	result := make(chan launched, 1)
	go func() {
		p, err := s.opts.Launcher.Launch(ctx, encoding, s.opts.Target)
		result <- launched{p, err}
	}()

	var proc Process
	select {
	case r := <-result:
		if r.err != nil {
			s.failStart(gen, startError("Falha ao iniciar o FFmpeg.", r.err))
			return
		}
		proc = r.proc
	case <-ctx.Done():
		// 超时后仍可能启动成功，不能泄漏
		go func() {
			if r := <-result; r.proc != nil {
				discard(r.proc)
			}
		}()
		s.failStart(gen, startError("Tempo esgotado ao iniciar o FFmpeg.", ctx.Err()))
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		discard(proc)
		logger.Info("ffmpeg descartado: sessão parada durante a inicialização", logger.String("session", s.id))
		return
	}

	s.proc = proc
	s.broadcast = SessionInfo{
		ID:           uuid.NewString(),
		ConnectionID: s.id,
		Encoding:     encoding,
		RemoteAddr:   s.remote,
		Target:       s.opts.Target,
		StartedAt:    time.Now(),
	}
	s.sv.SetBroadcaster(s)
	go s.pumpDiagnostics(proc)
	go s.watchExit(proc)

	s.sink.Send(ServerMessage{Type: TypeAck, Message: "ffmpeg-started"})
	s.opts.Observer.BroadcastStarted(s.broadcast)

	pending := s.pending
	s.pending = nil
	s.pendingBytes = 0
	for _, chunk := range pending {
		if err := s.writeLocked(chunk); err != nil {
			s.failWriteLocked(err)
			s.mu.Unlock()
			s.abort("ffmpeg write failure")
			return
		}
	}
	s.state = StateStreaming
	s.mu.Unlock()

	logger.Info("ffmpeg pronto", logger.String("session", s.id), logger.Int("pid", proc.PID()), logger.Int("flushed", len(pending)))
}

func (s *Session) failStart(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateIdle
	s.pending = nil
	s.pendingBytes = 0
	s.mu.Unlock()

	logger.Error("Falha ao iniciar ffmpeg", logger.String("session", s.id), logger.ErrorField(err))
	s.sink.Send(ServerMessage{Type: TypeError, Message: FrameMessage(err)})
	s.sink.Close(CloseInternalError, "ffmpeg start failure")
}

// HandleBinary queues, forwards or drops an audio chunk depending on state.
func (s *Session) HandleBinary(data []byte) {
	s.mu.Lock()
	switch s.state {
	case StateStarting:
		if s.pendingBytes+len(data) > s.opts.MaxPending {
			s.gen++
			s.state = StateIdle
			s.pending = nil
			s.pendingBytes = 0
			s.mu.Unlock()
			err := startError("Fila de áudio excedeu o limite durante a inicialização do FFmpeg.", nil)
			logger.Error("Fila pendente excedida", logger.String("session", s.id))
			s.sink.Send(ServerMessage{Type: TypeError, Message: FrameMessage(err)})
			s.sink.Close(CloseInternalError, "ffmpeg start failure")
			return
		}
		s.pending = append(s.pending, data)
		s.pendingBytes += len(data)
		s.mu.Unlock()
	case StateStreaming:
		if err := s.writeLocked(data); err != nil {
			s.failWriteLocked(err)
			s.mu.Unlock()
			s.abort("ffmpeg write failure")
			return
		}
		s.mu.Unlock()
	default:
		s.dropped++
		first := s.dropped == 1
		s.mu.Unlock()
		if first {
			logger.Warn("Chunk recebido sem ffmpeg ativo; descartando.", logger.String("session", s.id))
		}
	}
}

func (s *Session) writeLocked(chunk []byte) error {
	if _, err := s.proc.Write(chunk); err != nil {
		return err
	}
	s.broadcast.Bytes += int64(len(chunk))
	s.broadcast.Chunks++
	s.opts.Observer.BroadcastChunk(s.broadcast.ID, chunk)
	return nil
}

func (s *Session) failWriteLocked(err error) {
	logger.Error("Erro ao escrever no ffmpeg", logger.String("session", s.id), logger.ErrorField(err))
	s.stopLocked("write failure")
}

func (s *Session) abort(reason string) {
	s.sink.Close(CloseInternalError, reason)
}

// Stop ends the encoder and discards queued chunks. Safe in any state.
func (s *Session) Stop(reason string) {
	s.mu.Lock()
	s.stopLocked(reason)
	s.mu.Unlock()
}

func (s *Session) stopLocked(reason string) {
	s.gen++
	s.pending = nil
	s.pendingBytes = 0
	s.dropped = 0
	proc := s.proc
	if proc == nil {
		s.state = StateIdle
		return
	}
	s.state = StateStopping
	s.proc = nil
	if err := proc.Stop(); err != nil {
		logger.Warn("Erro ao interromper ffmpeg", logger.String("session", s.id), logger.ErrorField(err))
	}
	s.sv.ClearBroadcaster(s)
	s.finishBroadcastLocked(reason)
	s.state = StateIdle
	logger.Info("ffmpeg parado", logger.String("session", s.id), logger.String("reason", reason))
}

func (s *Session) finishBroadcastLocked(reason string) {
	if s.broadcast.ID == "" {
		return
	}
	info := s.broadcast
	info.EndedAt = time.Now()
	info.Reason = reason
	s.broadcast = SessionInfo{}
	s.opts.Observer.BroadcastEnded(info)
}

// Close tears the session down when its connection goes away.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked("connection closed")
	s.mu.Unlock()
	s.sv.Unregister(s)
}

// discard stops a process the session never adopted and drains its stderr
// so the process can be reaped.
func discard(proc Process) {
	proc.Stop()
	go func() {
		for range proc.Lines() {
		}
	}()
}

// pumpDiagnostics reads proc's stderr until it closes. Lines are forwarded
// only while proc is the session's current encoder.
func (s *Session) pumpDiagnostics(proc Process) {
	var last string
	for line := range proc.Lines() {
		if line == last {
			continue
		}
		last = line
		s.mu.Lock()
		current := s.proc == proc
		s.mu.Unlock()
		if !current {
			continue
		}
		logger.Debug("[ffmpeg]", logger.String("session", s.id), logger.String("line", line))
		s.sv.Forward(s, line)
	}
}

func (s *Session) watchExit(proc Process) {
	<-proc.Done()
	err := proc.Err()

	s.mu.Lock()
	current := s.proc == proc
	if current {
		s.gen++
		s.proc = nil
		s.state = StateIdle
		s.pending = nil
		s.pendingBytes = 0
		s.sv.ClearBroadcaster(s)
		reason := "ffmpeg exited"
		if err != nil {
			reason = ExitMessage(err)
		}
		s.finishBroadcastLocked(reason)
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if err == nil {
		logger.Info("ffmpeg finalizado", logger.String("session", s.id))
		return
	}
	msg := ExitMessage(err)
	logger.Error("ffmpeg encerrou inesperadamente", logger.String("session", s.id), logger.String("exit", msg))
	s.sink.Send(ServerMessage{Type: TypeError, Message: msg})
	s.sink.Close(CloseInternalError, "ffmpeg exited")
}
