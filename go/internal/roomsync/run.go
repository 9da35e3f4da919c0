package roomsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

var (
	ErrNoSession         = errors.New("synchronizer has no session")
	ErrSubscriptionEnded = errors.New("subscription ended")
)

// Run follows roomID until ctx is done: it subscribes to the room's channels, loads the
// snapshot while messages are already buffering, and applies every inbound message on a single
// goroutine. It returns nil when ctx ends and an error when the load fails or a subscription is
// lost.
func (s *Synchronizer) Run(ctx context.Context, roomID string) error {
	if s.sessions == nil {
		return ErrNoSession
	}
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return err
	}
	if err := s.begin(roomID); err != nil {
		return err
	}

	channels := wire.RoomChannels(roomID)
	subs := make([]*session.Subscription, 0, len(channels))
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, channel := range channels {
		sub, err := s.sessions.Subscribe(ctx, channel)
		if err != nil {
			s.abort()
			return fmt.Errorf("subscribe to %s: %w", channel, err)
		}
		subs = append(subs, sub)
	}

	g, gctx := errgroup.WithContext(ctx)
	inbox := make(chan wire.Inbound)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error { return forward(gctx, sub, inbox) })
	}
	g.Go(func() error { return s.load(gctx, roomID) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case in := <-inbox:
				err := s.Apply(gctx, in)
				if errors.Is(err, ErrClosed) {
					return err
				}
				if err != nil {
					log.Warn().
						Err(err).
						Str("room_id", roomID).
						Str("channel", in.Channel).
						Str("message_id", in.ID).
						Msg("failed to apply message")
				}
			}
		}
	})

	log.Info().Str("room_id", roomID).Int("channels", len(subs)).Msg("following room")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// forward copies one subscription into the shared inbox, keeping its order.
func forward(ctx context.Context, sub *session.Subscription, inbox chan<- wire.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-sub.Messages():
			if !ok {
				return fmt.Errorf("%w: %s", ErrSubscriptionEnded, sub.Channel())
			}
			select {
			case inbox <- in:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
