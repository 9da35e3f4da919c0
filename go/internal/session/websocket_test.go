package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeclash/go/internal/wire"
)

// stalledConn is a websocket connection whose write pump never drains the send buffer.
func stalledConn(buffer int) *wsConn {
	return &wsConn{
		config:   DefaultWebSocketConfig(),
		send:     make(chan []byte, buffer),
		handlers: make(map[string]map[string]func([]byte)),
		pending:  make(map[string]chan wire.Frame),
		closed:   make(chan struct{}),
	}
}

func TestWebSocketConn_PublishHonorsContextWhenBufferIsFull(t *testing.T) {
	c := stalledConn(1)
	require.NoError(t, c.Publish(context.Background(), "room:r1", []byte(`{}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Publish(ctx, "room:r1", []byte(`{}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the lock is released, so a cancelled publish fails fast too
	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	done := make(chan error, 1)
	go func() { done <- c.Publish(cancelled, "room:r1", []byte(`{}`)) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Len(t, c.send, 1)
}

func TestWebSocketConn_PublishAfterClose(t *testing.T) {
	c := stalledConn(1)
	close(c.closed)
	assert.ErrorIs(t, c.Publish(context.Background(), "room:r1", []byte(`{}`)), ErrConnectionClosed)
	assert.Error(t, c.Publish(context.Background(), "room:r1", []byte(`not json`)))
}
