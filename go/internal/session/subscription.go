package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/wire"
)

// Subscription is a cancellable stream of decoded messages from one channel.
// Messages arrive in the order the transport delivered them.
type Subscription struct {
	id      string
	channel string
	manager *Manager

	mu          sync.RWMutex
	closed      bool
	messages    chan wire.Inbound
	done        chan struct{}
	unsubscribe func() error
	once        sync.Once
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Channel returns the channel name.
func (s *Subscription) Channel() string { return s.channel }

// Messages returns the message stream. It is closed when the subscription ends.
func (s *Subscription) Messages() <-chan wire.Inbound { return s.messages }

// Done is closed when the subscription ends, by Unsubscribe or disconnect.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe ends the subscription. Calling it again, or after the session disconnected, is a
// no-op.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		registered := s.manager.remove(s)
		s.close()
		if registered && s.unsubscribe != nil {
			err = s.unsubscribe()
		}
		log.Debug().Str("channel", s.channel).Str("subscription_id", s.id).Msg("unsubscribed")
	})
	return err
}

// deliver is called by the transport for every raw message on the channel.
func (s *Subscription) deliver(body []byte) {
	in, err := wire.Decode(s.channel, body)
	if err != nil {
		s.manager.reportMalformed(s.channel, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.messages <- in:
	default:
		s.manager.dropped.Add(1)
		log.Warn().
			Str("channel", s.channel).
			Str("subscription_id", s.id).
			Str("message_type", string(in.Message.MessageType())).
			Msg("subscription buffer full, dropping message")
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
	close(s.done)
}
