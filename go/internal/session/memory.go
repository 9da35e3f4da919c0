package session

import (
	"context"
	"sync"
)

// MemoryHub is an in-process broker. Every connection dialed from the same hub sees the
// messages published by the others, including its own. Useful for tests and for running the
// synchronizer inside the same process as the publisher.
type MemoryHub struct {
	mu       sync.RWMutex
	handlers map[string][]memoryHandler // in subscription order
	conns    map[*memoryConn]struct{}
	nextID   uint64
}

// NewMemoryHub creates an empty hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		handlers: make(map[string][]memoryHandler),
		conns:    make(map[*memoryConn]struct{}),
	}
}

// Dial implements Transport. The endpoint is ignored.
func (h *MemoryHub) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &memoryConn{
		hub:    h,
		subs:   make(map[uint64]string),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c, nil
}

// Publish delivers body to every subscriber of channel, synchronously and in subscription order.
func (h *MemoryHub) Publish(channel string, body []byte) {
	h.mu.RLock()
	handlers := append([]memoryHandler(nil), h.handlers[channel]...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler.deliver(body)
	}
}

// Subscribers returns the number of subscriptions on channel.
func (h *MemoryHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[channel])
}

// DropAll closes every connection, simulating the loss of the server.
func (h *MemoryHub) DropAll() {
	h.mu.RLock()
	conns := make([]*memoryConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *MemoryHub) add(channel string, deliver func([]byte)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.handlers[channel] = append(h.handlers[channel], memoryHandler{id: h.nextID, deliver: deliver})
	return h.nextID
}

func (h *MemoryHub) removeHandler(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handlers := h.handlers[channel]
	for i, handler := range handlers {
		if handler.id != id {
			continue
		}
		handlers = append(handlers[:i], handlers[i+1:]...)
		break
	}
	if len(handlers) == 0 {
		delete(h.handlers, channel)
		return
	}
	h.handlers[channel] = handlers
}

type memoryHandler struct {
	id      uint64
	deliver func([]byte)
}

type memoryConn struct {
	hub *MemoryHub

	mu     sync.Mutex
	subs   map[uint64]string // handler id -> channel
	closed chan struct{}
	done   bool
}

func (c *memoryConn) Subscribe(ctx context.Context, channel string, deliver func([]byte)) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, ErrConnectionClosed
	}
	id := c.hub.add(channel, deliver)
	c.subs[id] = channel

	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; !ok {
			return nil
		}
		delete(c.subs, id)
		c.hub.removeHandler(channel, id)
		return nil
	}, nil
}

func (c *memoryConn) Publish(ctx context.Context, channel string, body []byte) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done {
		return ErrConnectionClosed
	}
	c.hub.Publish(channel, body)
	return nil
}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	c.done = true
	for id, channel := range c.subs {
		c.hub.removeHandler(channel, id)
	}
	c.subs = nil

	c.hub.mu.Lock()
	delete(c.hub.conns, c)
	c.hub.mu.Unlock()

	close(c.closed)
	return nil
}

func (c *memoryConn) Closed() <-chan struct{} { return c.closed }
