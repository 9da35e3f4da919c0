// Package mirror streams a player's live editor (code, language and current problem) to the
// spectators watching that player, over a dedicated per-player channel.
//
// A spectator announces itself by publishing a NewSpectator sentinel on the player's view
// channel; the player answers with a full ViewState snapshot so the spectator never starts
// blank. After that every local editor change is published as a ViewState.
package mirror

import (
	"context"
	"fmt"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

// Sender publishes messages. *session.Manager implements it.
type Sender interface {
	Send(ctx context.Context, channel string, msg wire.Message) error
}

// Session is the part of the session manager the mirror needs.
type Session interface {
	Sender
	Subscribe(ctx context.Context, channel string) (*session.Subscription, error)
}

// PublishViewState publishes view as the editor state of user in roomID. The problem, index,
// code and language are sent as given; only the acting user is overwritten. Code sent here is
// never stored as a submission.
func PublishViewState(ctx context.Context, sender Sender, roomID string, user models.User, view wire.ViewState) error {
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	if err := wire.ValidateIdentifier(user.UserID); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	view.User = user
	return sender.Send(ctx, wire.PlayerView(roomID, user.UserID), view)
}
