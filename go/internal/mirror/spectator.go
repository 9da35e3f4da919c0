package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// Spectator mirrors the editor of one player at a time.
type Spectator struct {
	session Session
	self    models.User

	mu        sync.RWMutex
	sub       *session.Subscription
	channel   string
	view      wire.ViewState
	hasView   bool
	updatedAt time.Time

	changed chan struct{}
	wg      sync.WaitGroup
}

// NewSpectator creates a spectator announcing itself as self
func NewSpectator(sess Session, self models.User) *Spectator {
	return &Spectator{
		session: sess,
		self:    self,
		changed: make(chan struct{}, 1),
	}
}

// SubscribeToPlayer starts mirroring userID in roomID and asks the player for a snapshot.
// Watching another player first stops watching the current one.
func (s *Spectator) SubscribeToPlayer(ctx context.Context, roomID, userID string) error {
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	if err := wire.ValidateIdentifier(userID); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	if err := s.Unsubscribe(); err != nil {
		return err
	}

	channel := wire.PlayerView(roomID, userID)
	sub, err := s.session.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe to player %s: %w", userID, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.channel = channel
	s.view = wire.ViewState{}
	s.hasView = false
	s.updatedAt = time.Time{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(sub)

	if err := s.session.Send(ctx, channel, wire.NewSpectator{Spectator: s.self}); err != nil {
		_ = s.Unsubscribe()
		return fmt.Errorf("announce spectator: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("player_id", userID).
		Str("spectator", s.self.Nickname).
		Msg("spectating player")
	return nil
}

// View returns the last mirrored editor state and whether one has been received.
func (s *Spectator) View() (wire.ViewState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view, s.hasView
}

// UpdatedAt returns when the mirrored state was last published by the player.
func (s *Spectator) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Changed signals that View changed. Signals coalesce.
func (s *Spectator) Changed() <-chan struct{} {
	return s.changed
}

// Unsubscribe stops mirroring. It is safe to call repeatedly or before SubscribeToPlayer.
func (s *Spectator) Unsubscribe() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	s.wg.Wait()
	return err
}

func (s *Spectator) consume(sub *session.Subscription) {
	defer s.wg.Done()

	for in := range sub.Messages() {
		view, ok := in.Message.(wire.ViewState)
		if !ok {
			// sentinels from this or other spectators
			continue
		}

		s.mu.Lock()
		if s.sub != sub {
			s.mu.Unlock()
			return
		}
		s.view = view
		s.hasView = true
		s.updatedAt = in.Timestamp
		s.mu.Unlock()

		select {
		case s.changed <- struct{}{}:
		default:
		}
	}
}
