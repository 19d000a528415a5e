package session

import (
	"errors"
	"sync"

	"github.com/medai-health/medai/backend/internal/model/transcription"
)

type fakeConn struct {
	mu       sync.Mutex
	sent     []transcription.Outbound
	closed   []string
	failSend bool
}

func (c *fakeConn) Send(msg transcription.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
	return nil
}

func (c *fakeConn) messages() []transcription.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transcription.Outbound(nil), c.sent...)
}

func (c *fakeConn) closeReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closed...)
}
