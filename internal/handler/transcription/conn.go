package transcription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/service/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// CloseCodeDisplaced is sent when a newer connection takes over the session.
	CloseCodeDisplaced = 4000
)

var errConnClosed = errors.New("connection closed")

// wsConn adapts a gorilla connection to session.Conn. Writes are serialized;
// gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

var _ session.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(msg model.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame carrying reason and closes the socket. Safe to
// call repeatedly and from any goroutine.
func (c *wsConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	code := websocket.CloseNormalClosure
	switch reason {
	case session.CloseDisplaced:
		code = CloseCodeDisplaced
	case session.CloseShutdown:
		code = websocket.CloseGoingAway
	case session.CloseSendFailed:
		code = websocket.CloseInternalServerErr
	case session.ErrOwnerMismatch.Error():
		code = websocket.ClosePolicyViolation
	}
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	return c.ws.Close()
}

// readFrames feeds text frames into out until the socket fails or ctx ends.
// The read deadline is refreshed before each read and by every pong.
func (c *wsConn) readFrames(ctx context.Context, out chan<- []byte) error {
	defer close(out)

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop keeps idle connections alive through proxies.
func (c *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
