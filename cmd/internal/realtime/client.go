package realtime

import (
	"sync"

	v1 "vigil/shared/contracts/presence/v1"
)

// outbound is one queued frame. closeAfter ends the feed once it is written.
type outbound struct {
	env        v1.Envelope
	closeAfter bool
}

// Client is one connected feed viewer.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// done signals shutdown and Close is idempotent.
type Client struct {
	ID        string
	Username  string
	SessionID string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, username, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsMinSendQueueSize
	}
	return &Client{
		ID:        id,
		Username:  username,
		SessionID: sessionID,
		send:      make(chan outbound, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues a frame without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) offer(o outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- o:
		return true
	default:
		return false
	}
}
