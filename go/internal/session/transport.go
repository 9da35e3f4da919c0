package session

import "context"

// Transport opens physical connections to a session endpoint.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one physical connection carrying named pub/sub channels.
type Conn interface {
	// Subscribe registers deliver for every message on channel. It returns once the remote end
	// has accepted the subscription. deliver must not block.
	Subscribe(ctx context.Context, channel string, deliver func(body []byte)) (unsubscribe func() error, err error)
	// Publish sends body on channel without waiting for delivery.
	Publish(ctx context.Context, channel string, body []byte) error
	// Close closes the connection. It is safe to call more than once.
	Close() error
	// Closed is closed when the connection is gone, by Close or by connection loss.
	Closed() <-chan struct{}
}
