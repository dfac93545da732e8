package refresher

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// Hub is the connection-handling shell around the Refresher: it accepts one
// long-lived connection per client, routes each inbound message to the
// corresponding coordinator operation, and implements the broadcast primitive
// the coordinator uses. The coordinator itself is created lazily on the first
// connection and lives for the Hub's lifetime.
type Hub struct {
	mu sync.Mutex

	logger hclog.Logger
	grants GrantClient
	store  storage.Store
	opts   []Option

	conns     map[string]*Conn
	refresher *Refresher
	closed    bool

	// backgroundCtx bounds grant calls made on behalf of timers; cancelled
	// by Close.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// NewHub creates a Hub for the given grant client and credential store. The
// coordinator is not created until the first client connects.
//
// See Hub.Close() which must be called to release hub resources.
//
// Supported options: WithLogger, WithNow
func NewHub(grants GrantClient, store storage.Store, opt ...Option) (*Hub, error) {
	const op = "refresher.NewHub"
	if grants == nil {
		return nil, fmt.Errorf("%s: grant client is nil: %w", op, ErrNilParameter)
	}
	opts := getRefresherOpts(opt...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:              opts.withLogger,
		grants:              grants,
		store:               store,
		opts:                opt,
		conns:               map[string]*Conn{},
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Connect registers a new client connection and starts dispatching its
// requests. The first connection creates the Hub's coordinator.
func (h *Hub) Connect() (*Conn, error) {
	const op = "Hub.Connect"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("%s: %w", op, ErrHubClosed)
	}
	if h.refresher == nil {
		r, err := NewRefresher(h.backgroundCtx, h.grants, h.store, h.broadcast, h.opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create coordinator: %w", op, err)
		}
		h.refresher = r
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate connection id: %w", op, err)
	}
	c := &Conn{
		id:       id,
		hub:      h,
		requests: make(chan Message, connQueueSize),
		events:   make(chan Message, connQueueSize),
	}
	h.conns[id] = c
	go h.serve(c)
	return c, nil
}

// Refresher returns the coordinator, or nil when no client has connected yet.
func (h *Hub) Refresher() *Refresher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refresher
}

// Close stops the coordinator, cancels its background context and
// disconnects every remaining connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	r := h.refresher
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if r != nil {
		r.Stop()
	}
	h.backgroundCtxCancel()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// serve dispatches one connection's requests in FIFO order until the
// connection closes, then unregisters it.
func (h *Hub) serve(c *Conn) {
	for m := range c.requests {
		h.dispatch(c, m)
	}
	h.remove(c)
}

// dispatch routes an inbound message to the coordinator operation it names.
// This layer is pure routing: no retry, no backoff.
func (h *Hub) dispatch(c *Conn, m Message) {
	switch v := m.(type) {
	case *Schedule:
		h.refresher.Schedule(v.Tokens)
	case *Refresh:
		h.refresher.Refresh(func(reply Message) {
			h.send(c, reply)
		})
	case *Stop:
		h.refresher.Stop()
	case *Disconnect:
		h.remove(c)
	case *TokenUpdate, *RefreshError, *Expired:
		h.logger.Warn("client sent a coordinator-side message", "conn", c.Id())
	}
}

// broadcast fans a coordinator message out to every tracked connection.
// Connections whose event queue cannot take the message are dropped: a
// crashed client must not remain in the broadcast set.
func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		if !h.deliverLocked(c, m) {
			h.logger.Warn("dropping unresponsive connection", "conn", id)
			delete(h.conns, id)
			close(c.events)
		}
	}
}

// send delivers a message to a single connection, if it is still tracked.
func (h *Hub) send(c *Conn, m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	if !h.deliverLocked(c, m) {
		h.logger.Warn("dropping unresponsive connection", "conn", c.id)
		delete(h.conns, c.id)
		close(c.events)
	}
}

// deliverLocked performs a non-blocking enqueue onto the connection's event
// queue. Callers hold h.mu, so no delivery races a close of the channel.
func (h *Hub) deliverLocked(c *Conn, m Message) bool {
	select {
	case c.events <- m:
		return true
	default:
		return false
	}
}

// remove unregisters a connection and closes its event channel.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	close(c.events)
}
