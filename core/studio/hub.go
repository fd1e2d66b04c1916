package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"

	"github.com/gorilla/websocket"
)

// MessageType 控制台推送消息类型
type MessageType string

const (
	MsgTypeStatus MessageType = "status" // 状态快照
	MsgTypeMeters MessageType = "meters" // 电平表
	MsgTypeEvent  MessageType = "event"  // 通道事件
)

// ConsoleMessage is one frame pushed to operator consoles.
type ConsoleMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type eventData struct {
	Type     mixer.EventType `json:"type"`
	Channel  mixer.Channel   `json:"channel"`
	URL      string          `json:"url,omitempty"`
	Elapsed  float64         `json:"elapsed,omitempty"`
	Duration float64         `json:"duration,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	consoleSendBuffer = 32
	consoleWriteWait  = 10 * time.Second
	consolePongWait   = 60 * time.Second
	consolePingPeriod = 30 * time.Second
)

var consoleUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// consoleClient WebSocket 控制台连接
type consoleClient struct {
	hub  *ConsoleHub
	conn *websocket.Conn
	send chan []byte
}

// ConsoleHub fans studio status and mixer events out to console WebSockets.
type ConsoleHub struct {
	clients    map[*consoleClient]bool
	register   chan *consoleClient
	unregister chan *consoleClient
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewConsoleHub 创建控制台 Hub
func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{
		clients:    make(map[*consoleClient]bool),
		register:   make(chan *consoleClient),
		unregister: make(chan *consoleClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环，ctx 结束时关闭所有连接。Run 只能调用一次
func (h *ConsoleHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.Debug("console connected", logger.Int("clients", h.Len()))
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*consoleClient]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *ConsoleHub) remove(c *consoleClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *ConsoleHub) fanOut(msg []byte) {
	h.mu.RLock()
	clients := make([]*consoleClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// 发送缓冲区满，移除客户端
			h.remove(c)
		}
	}
}

// Len returns the number of connected consoles.
func (h *ConsoleHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues a message for every console; dropped when the hub is backed up.
func (h *ConsoleHub) Publish(t MessageType, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("console message encode failed", logger.ErrorField(err))
		return
	}
	msg, err := json.Marshal(ConsoleMessage{Type: t, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// PublishEvent forwards a mixer event.
func (h *ConsoleHub) PublishEvent(ev mixer.Event) {
	d := eventData{
		Type:     ev.Type,
		Channel:  ev.Channel,
		URL:      ev.URL,
		Elapsed:  ev.Elapsed,
		Duration: ev.Duration,
	}
	if ev.Err != nil {
		d.Error = ev.Err.Error()
	}
	h.Publish(MsgTypeEvent, d)
}

// ServeWS upgrades a console connection. initial, when non-nil, is sent first.
func (h *ConsoleHub) ServeWS(w http.ResponseWriter, r *http.Request, initial interface{}) {
	conn, err := consoleUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("console upgrade failed", logger.ErrorField(err))
		return
	}
	c := &consoleClient{hub: h, conn: conn, send: make(chan []byte, consoleSendBuffer)}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			msg, _ := json.Marshal(ConsoleMessage{Type: MsgTypeStatus, Data: data, Timestamp: time.Now().UnixMilli()})
			c.send <- msg
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// readPump 只处理心跳与关闭，控制台的操作走 HTTP 接口
func (c *consoleClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(consolePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(consolePongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("console read error", logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *consoleClient) writePump() {
	ticker := time.NewTicker(consolePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
