package wire

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ChannelKind identifies what a logical channel carries.
type ChannelKind string

const (
	KindUpdates     ChannelKind = "updates"
	KindStart       ChannelKind = "start"
	KindEnd         ChannelKind = "end"
	KindSubmissions ChannelKind = "submissions"
	KindRoster      ChannelKind = "roster"
	KindPlayerView  ChannelKind = "view"
)

const roomPrefix = "room"

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidChannel    = errors.New("invalid channel")
)

// Channel is a parsed logical channel name.
type Channel struct {
	Kind   ChannelKind
	RoomID string
	UserID string // only set for player-scoped channels
}

// String returns the channel name.
func (c Channel) String() string {
	if c.Kind == KindPlayerView {
		return PlayerView(c.RoomID, c.UserID)
	}
	return roomChannel(c.RoomID, c.Kind)
}

func roomChannel(roomID string, kind ChannelKind) string {
	return roomPrefix + "." + roomID + "." + string(kind)
}

// RoomUpdates carries full room snapshots.
func RoomUpdates(roomID string) string { return roomChannel(roomID, KindUpdates) }

// RoomStart carries the start-game signal.
func RoomStart(roomID string) string { return roomChannel(roomID, KindStart) }

// RoomEnd carries the explicit end-game signal.
func RoomEnd(roomID string) string { return roomChannel(roomID, KindEnd) }

// RoomSubmissions carries live submission events.
func RoomSubmissions(roomID string) string { return roomChannel(roomID, KindSubmissions) }

// RoomRoster carries user joined/left signals.
func RoomRoster(roomID string) string { return roomChannel(roomID, KindRoster) }

// PlayerView is the point-to-point channel a player's live editor is mirrored on.
func PlayerView(roomID, userID string) string {
	return roomPrefix + "." + roomID + ".player." + userID + "." + string(KindPlayerView)
}

// RoomChannels lists every room-wide channel of a room.
func RoomChannels(roomID string) []string {
	return []string{
		RoomUpdates(roomID),
		RoomStart(roomID),
		RoomEnd(roomID),
		RoomSubmissions(roomID),
		RoomRoster(roomID),
	}
}

// ValidateIdentifier rejects ids that would break channel names or NATS subjects.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	for _, r := range id {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentifier, id, r)
		}
	}
	return nil
}

// ParseChannel parses and validates a channel name.
func ParseChannel(name string) (Channel, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 || parts[0] != roomPrefix {
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	if err := ValidateIdentifier(parts[1]); err != nil {
		return Channel{}, fmt.Errorf("%w: %q: %v", ErrInvalidChannel, name, err)
	}

	switch len(parts) {
	case 3:
		kind := ChannelKind(parts[2])
		switch kind {
		case KindUpdates, KindStart, KindEnd, KindSubmissions, KindRoster:
			return Channel{Kind: kind, RoomID: parts[1]}, nil
		}
	case 5:
		if parts[2] == "player" && ChannelKind(parts[4]) == KindPlayerView {
			if err := ValidateIdentifier(parts[3]); err != nil {
				return Channel{}, fmt.Errorf("%w: %q: %v", ErrInvalidChannel, name, err)
			}
			return Channel{Kind: KindPlayerView, RoomID: parts[1], UserID: parts[3]}, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
}
