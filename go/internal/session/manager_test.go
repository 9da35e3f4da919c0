package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// recv receives one message with a timeout so tests never hang
func recv(t *testing.T, sub *Subscription, within time.Duration) wire.Inbound {
	t.Helper()
	select {
	case in, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return in
	case <-time.After(within):
		t.Fatalf("timed out waiting for message on %s", sub.Channel())
		return wire.Inbound{}
	}
}

func roomUpdate(version uint64) wire.RoomUpdated {
	host := models.User{Nickname: "alice", UserID: "u1"}
	return wire.RoomUpdated{Room: models.Room{
		RoomID:  "r1",
		Host:    host,
		Users:   []models.User{host},
		Version: version,
	}}
}

func connected(t *testing.T, hub *MemoryHub) *Manager {
	t.Helper()
	m := NewManager(hub, DefaultConfig())
	require.NoError(t, m.Connect(context.Background(), "memory://"))
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

type failingTransport struct{ err error }

func (f failingTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return nil, f.err
}

type hangingTransport struct{}

func (hangingTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestManager_OperationsRequireConnection(t *testing.T) {
	m := NewManager(NewMemoryHub(), DefaultConfig())
	ctx := context.Background()

	_, err := m.Subscribe(ctx, wire.RoomUpdates("r1"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.Send(ctx, wire.RoomUpdates("r1"), roomUpdate(1)), ErrNotConnected)
	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)
	assert.False(t, m.Connected())
}

func TestManager_ConnectTwiceFails(t *testing.T) {
	m := connected(t, NewMemoryHub())
	assert.ErrorIs(t, m.Connect(context.Background(), "memory://"), ErrAlreadyConnected)
	assert.True(t, m.Connected())
}

func TestManager_ConnectErrors(t *testing.T) {
	boom := errors.New("refused")
	m := NewManager(failingTransport{err: boom}, DefaultConfig())

	err := m.Connect(context.Background(), "ws://nowhere")
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "ws://nowhere", connErr.Endpoint)
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.Connected())

	cfg := DefaultConfig()
	cfg.DialTimeout = 20 * time.Millisecond
	m = NewManager(hangingTransport{}, cfg)
	err = m.Connect(context.Background(), "ws://slow")
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// a failed connect leaves the manager reusable
	m.transport = NewMemoryHub()
	assert.NoError(t, m.Connect(context.Background(), "memory://"))
}

func TestManager_ConnectIsExclusiveWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(blockingTransport{release: release, hub: NewMemoryHub()}, DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Connect(context.Background(), "memory://"))
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.connecting
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Connect(context.Background(), "memory://"), ErrAlreadyConnected)
	close(release)
	wg.Wait()
	assert.True(t, m.Connected())
}

type blockingTransport struct {
	release chan struct{}
	hub     *MemoryHub
}

func (b blockingTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	<-b.release
	return b.hub.Dial(ctx, endpoint)
}

func TestManager_SubscribeRejectsInvalidChannel(t *testing.T) {
	m := connected(t, NewMemoryHub())
	_, err := m.Subscribe(context.Background(), "room.r1.chat")
	assert.ErrorIs(t, err, wire.ErrInvalidChannel)
	assert.ErrorIs(t, m.Send(context.Background(), "room..updates", roomUpdate(1)), wire.ErrInvalidChannel)
}

func TestManager_DeliversInOrderAcrossManagers(t *testing.T) {
	hub := NewMemoryHub()
	publisher := connected(t, hub)
	listener := connected(t, hub)
	ctx := context.Background()

	sub, err := listener.Subscribe(ctx, wire.RoomUpdates("r1"))
	require.NoError(t, err)

	for v := uint64(1); v <= 10; v++ {
		require.NoError(t, publisher.Send(ctx, wire.RoomUpdates("r1"), roomUpdate(v)))
	}
	for v := uint64(1); v <= 10; v++ {
		in := recv(t, sub, time.Second)
		assert.Equal(t, v, in.Message.(wire.RoomUpdated).Room.Version)
	}
}

func TestManager_SendRejectsInvalidMessage(t *testing.T) {
	m := connected(t, NewMemoryHub())
	bad := roomUpdate(1)
	bad.Room.Host = models.User{}
	assert.ErrorIs(t, m.Send(context.Background(), wire.RoomUpdates("r1"), bad), models.ErrNoHost)
}

func TestManager_MalformedMessagesAreDropped(t *testing.T) {
	hub := NewMemoryHub()
	var mu sync.Mutex
	var reported []string

	cfg := DefaultConfig()
	cfg.OnMalformed = func(channel string, err error) {
		var malformed *wire.MalformedMessageError
		assert.True(t, errors.As(err, &malformed))
		mu.Lock()
		reported = append(reported, channel)
		mu.Unlock()
	}
	m := NewManager(hub, cfg)
	require.NoError(t, m.Connect(context.Background(), "memory://"))
	defer m.Disconnect()

	sub, err := m.Subscribe(context.Background(), wire.RoomUpdates("r1"))
	require.NoError(t, err)

	hub.Publish(wire.RoomUpdates("r1"), []byte("{not json"))
	body, err := wire.Encode(roomUpdate(7))
	require.NoError(t, err)
	hub.Publish(wire.RoomUpdates("r1"), body)

	in := recv(t, sub, time.Second)
	assert.Equal(t, uint64(7), in.Message.(wire.RoomUpdated).Room.Version)

	mu.Lock()
	assert.Equal(t, []string{wire.RoomUpdates("r1")}, reported)
	mu.Unlock()
	assert.EqualValues(t, 1, m.Stats()["malformed_messages"])
}

func TestManager_FullBufferDropsMessages(t *testing.T) {
	hub := NewMemoryHub()
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	m := NewManager(hub, cfg)
	require.NoError(t, m.Connect(context.Background(), "memory://"))
	defer m.Disconnect()

	sub, err := m.Subscribe(context.Background(), wire.RoomUpdates("r1"))
	require.NoError(t, err)
	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, m.Send(context.Background(), wire.RoomUpdates("r1"), roomUpdate(v)))
	}

	assert.Equal(t, uint64(1), recv(t, sub, time.Second).Message.(wire.RoomUpdated).Room.Version)
	assert.Equal(t, uint64(2), recv(t, sub, time.Second).Message.(wire.RoomUpdated).Room.Version)
	assert.EqualValues(t, 1, m.Stats()["dropped_messages"])
}

func TestSubscription_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	m := connected(t, hub)

	sub, err := m.Subscribe(context.Background(), wire.RoomStart("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(wire.RoomStart("r1")))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, hub.Subscribers(wire.RoomStart("r1")))

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.EqualValues(t, 0, m.Stats()["subscriptions"])
}

func TestManager_DisconnectInvalidatesSubscriptions(t *testing.T) {
	hub := NewMemoryHub()
	m := NewManager(hub, DefaultConfig())
	require.NoError(t, m.Connect(context.Background(), "memory://"))

	sub, err := m.Subscribe(context.Background(), wire.RoomUpdates("r1"))
	require.NoError(t, err)

	require.NoError(t, m.Disconnect())
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended by disconnect")
	}
	assert.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, hub.Subscribers(wire.RoomUpdates("r1")))
	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)

	// reconnecting replaces the connection
	require.NoError(t, m.Connect(context.Background(), "memory://"))
	assert.NoError(t, m.Disconnect())
}

func TestManager_ConnectionLossEndsSession(t *testing.T) {
	hub := NewMemoryHub()
	m := NewManager(hub, DefaultConfig())
	require.NoError(t, m.Connect(context.Background(), "memory://"))

	sub, err := m.Subscribe(context.Background(), wire.RoomUpdates("r1"))
	require.NoError(t, err)

	hub.DropAll()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended by connection loss")
	}
	assert.Eventually(t, func() bool { return !m.Connected() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, m.Send(context.Background(), wire.RoomUpdates("r1"), roomUpdate(1)), ErrNotConnected)
}
