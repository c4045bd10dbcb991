package core

import "sync"

const defaultQueueSize = 32

// Conn is one live transport session as seen by the registry and router.
type Conn interface {
	ID() string
	UserID() string
	// Deliver enqueues an event without blocking.
	Deliver(event *Event) error
	// Close releases the session; Deliver fails afterwards.
	Close()
}

// Client is a websocket-backed connection. The transport drains Events.
type Client struct {
	id     string
	Events chan *Event

	mu     sync.Mutex
	userID string
	name   string
	closed bool
}

// NewClient constructs a client with an outbound queue of queueSize events.
func NewClient(id string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Client{
		id:     id,
		Events: make(chan *Event, queueSize),
	}
}

// ID returns the connection handle.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the joined identity, or "" before join.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Name returns the display name announced at join.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return c.userID
	}
	return c.name
}

func (c *Client) setIdentity(userID, name string) {
	c.mu.Lock()
	c.userID = userID
	c.name = name
	c.mu.Unlock()
}

// Deliver implements Conn.
func (c *Client) Deliver(event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.Events <- event:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close implements Conn. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
}
