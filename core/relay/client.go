package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"RadioRoyal/logger"

	"github.com/gorilla/websocket"
)

// Client is the studio side of the relay protocol.
type Client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	onMessage func(ServerMessage)

	ackOnce sync.Once
	acked   chan struct{}
	done    chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// Dial connects to a relay endpoint. token, when set, is sent as a bearer
// token. onMessage may be nil.
func Dial(ctx context.Context, url, token string, onMessage func(ServerMessage)) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("relay dial %s: %w", url, err)
	}

	c := &Client{
		conn:      conn,
		onMessage: onMessage,
		acked:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseNormalClosure {
				c.setErr(fmt.Errorf("relay closed: %d %s", ce.Code, ce.Text))
			} else if !errors.As(err, &ce) {
				c.setErr(err)
			}
			return
		}
		switch msg.Type {
		case TypeAck:
			c.ackOnce.Do(func() { close(c.acked) })
		case TypeError:
			c.setErr(errors.New(msg.Message))
			logger.Error("relay reportou erro", logger.String("message", msg.Message))
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.lastErr == nil {
		c.lastErr = err
	}
	c.errMu.Unlock()
}

// Err returns the first error reported by the relay.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Start asks the relay to spawn its encoder for mimeType.
func (c *Client) Start(mimeType string) error {
	return c.writeJSON(ControlMessage{Type: TypeStart, MimeType: mimeType})
}

// WaitAck blocks until the encoder is acknowledged, the connection ends or ctx expires.
func (c *Client) WaitAck(ctx context.Context) error {
	select {
	case <-c.acked:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("relay connection closed before ack")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the relay to stop its encoder.
func (c *Client) Stop() error {
	return c.writeJSON(ControlMessage{Type: TypeStop})
}

// SendChunk sends one binary audio chunk.
func (c *Client) SendChunk(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Stream forwards r to the relay in chunks until EOF, ctx end or a relay error.
func (c *Client) Stream(ctx context.Context, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("relay connection closed")
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := c.SendChunk(chunk); werr != nil {
				return fmt.Errorf("relay send: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return c.conn.Close()
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}
