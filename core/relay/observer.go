package relay

import "time"

// SessionInfo describes one start..stop broadcast within a connection.
type SessionInfo struct {
	ID           string
	ConnectionID string
	Encoding     string
	RemoteAddr   string
	Target       string
	StartedAt    time.Time
	EndedAt      time.Time
	Bytes        int64
	Chunks       int64
	Reason       string
}

// Observer is notified of broadcast lifecycle events. Calls happen under
// the session lock and must not block.
type Observer interface {
	BroadcastStarted(info SessionInfo)
	BroadcastChunk(broadcastID string, chunk []byte)
	BroadcastEnded(info SessionInfo)
}

type nopObserver struct{}

func (nopObserver) BroadcastStarted(SessionInfo)  {}
func (nopObserver) BroadcastChunk(string, []byte) {}
func (nopObserver) BroadcastEnded(SessionInfo)    {}
