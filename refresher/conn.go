package refresher

import (
	"fmt"
	"sync"
)

// connQueueSize bounds each connection's request and event queues. A client
// whose event queue overflows is considered dead and is dropped from the
// broadcast set.
const connQueueSize = 32

// Conn is one client's long-lived connection to a Hub. Requests sent on it
// are dispatched to the Hub's coordinator in FIFO order; coordinator
// broadcasts and direct replies arrive on Events. The Events channel is
// closed when the connection is unregistered.
type Conn struct {
	id  string
	hub *Hub

	mu       sync.Mutex
	closed   bool
	requests chan Message
	events   chan Message
}

// Id returns the connection's unique id.
func (c *Conn) Id() string {
	return c.id
}

// Send queues a client→coordinator message for dispatch. It fails once the
// connection is closed.
func (c *Conn) Send(m Message) error {
	const op = "Conn.Send"
	if m == nil {
		return fmt.Errorf("%s: message is nil: %w", op, ErrNilParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s: %w", op, ErrConnClosed)
	}
	c.requests <- m
	return nil
}

// Events returns the channel carrying coordinator→client messages. It is
// closed when the connection is unregistered from the Hub.
func (c *Conn) Events() <-chan Message {
	return c.events
}

// Close disconnects from the Hub: the connection is removed from the
// broadcast set and Events is closed once queued requests have been
// dispatched. Close is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.requests)
	return nil
}
