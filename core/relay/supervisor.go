package relay

import "sync"

// Supervisor tracks open sessions and the single current broadcaster whose
// encoder diagnostics are forwarded to its client.
type Supervisor struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	broadcaster *Session
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{sessions: make(map[string]*Session)}
}

// Register adds a connected session.
func (sv *Supervisor) Register(s *Session) {
	sv.mu.Lock()
	sv.sessions[s.id] = s
	sv.mu.Unlock()
}

// Unregister removes a session; it stops being the broadcaster too.
func (sv *Supervisor) Unregister(s *Session) {
	sv.mu.Lock()
	delete(sv.sessions, s.id)
	if sv.broadcaster == s {
		sv.broadcaster = nil
	}
	sv.mu.Unlock()
}

// Connections returns the number of open sessions.
func (sv *Supervisor) Connections() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// SetBroadcaster marks s as the session whose encoder just started.
func (sv *Supervisor) SetBroadcaster(s *Session) {
	sv.mu.Lock()
	sv.broadcaster = s
	sv.mu.Unlock()
}

// ClearBroadcaster unsets s if it is still the broadcaster.
func (sv *Supervisor) ClearBroadcaster(s *Session) {
	sv.mu.Lock()
	if sv.broadcaster == s {
		sv.broadcaster = nil
	}
	sv.mu.Unlock()
}

// Broadcaster returns the current broadcaster's id.
func (sv *Supervisor) Broadcaster() (string, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.broadcaster == nil {
		return "", false
	}
	return sv.broadcaster.id, true
}

// Forward sends an encoder line to from's own connection, only while from
// is the current broadcaster.
func (sv *Supervisor) Forward(from *Session, line string) {
	sv.mu.Lock()
	current := sv.broadcaster == from
	sv.mu.Unlock()
	if !current {
		return
	}
	from.sink.Send(ServerMessage{Type: TypeFFmpegOutput, Message: line})
}

// StopAll stops every session's encoder, used on shutdown.
func (sv *Supervisor) StopAll() {
	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()
	for _, s := range sessions {
		s.Stop("server shutdown")
	}
}
