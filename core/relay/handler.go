package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"RadioRoyal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 16 * 1024,
	Subprotocols:    []string{Subprotocol},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades relay connections and runs one Session per connection.
type Handler struct {
	opts       Options
	supervisor *Supervisor
}

// NewHandler creates a relay WebSocket handler.
func NewHandler(opts Options, supervisor *Supervisor) *Handler {
	if supervisor == nil {
		supervisor = NewSupervisor()
	}
	return &Handler{opts: opts, supervisor: supervisor}
}

// Supervisor exposes the session supervisor.
func (h *Handler) Supervisor() *Supervisor { return h.supervisor }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	sink := &connSink{conn: conn}
	session := NewSession(r.RemoteAddr, sink, h.opts, h.supervisor)
	h.supervisor.Register(session)
	logger.Info("Cliente conectado ao relay",
		logger.String("session", session.ID()),
		logger.String("remote", r.RemoteAddr),
		logger.Int("connections", h.supervisor.Connections()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink.Send(ServerMessage{Type: TypeStatus, Message: "connected", RTMPURL: TargetLabel(h.opts.Target)})

	done := make(chan struct{})
	go sink.pingLoop(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("relay read error", logger.String("session", session.ID()), logger.ErrorField(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		switch mt {
		case websocket.TextMessage:
			session.HandleText(ctx, data)
		case websocket.BinaryMessage:
			session.HandleBinary(data)
		}
	}

	close(done)
	session.Close()
	sink.shutdown()
	logger.Info("Cliente desconectado do relay",
		logger.String("session", session.ID()),
		logger.Int("connections", h.supervisor.Connections()))
}

// connSink serializes writes to one connection.
type connSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *connSink) Send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *connSink) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

func (c *connSink) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}

func (c *connSink) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
