package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Envelope is the base structure of every channel message.
type Envelope struct {
	ID        string          `json:"id"`        // message UUID
	Type      MessageType     `json:"type"`      // discriminator for Data
	Timestamp time.Time       `json:"timestamp"` // creation time at the sender
	Data      json.RawMessage `json:"data"`      // type-specific payload
}

// Inbound is a decoded, validated message received on a channel.
type Inbound struct {
	Channel   string
	ID        string
	Timestamp time.Time
	Message   Message
}

// MalformedMessageError is returned when a channel payload fails to decode or validate.
type MalformedMessageError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message on %s: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message on %s: %s", e.Channel, e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Encode wraps a message in a new envelope and marshals it.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.MessageType(), err)
	}
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      msg.MessageType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses raw bytes received on channel into a typed message. Any failure, including a
// message type that is not allowed on the channel, is a *MalformedMessageError.
func Decode(channel string, raw []byte) (Inbound, error) {
	malformed := func(reason string, err error) (Inbound, error) {
		return Inbound{}, &MalformedMessageError{Channel: channel, Reason: reason, Err: err}
	}

	ch, err := ParseChannel(channel)
	if err != nil {
		return malformed("unknown channel", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return malformed("invalid envelope", err)
	}
	if !slices.Contains(allowedTypes[ch.Kind], env.Type) {
		return malformed(fmt.Sprintf("type %q not allowed on %s channel", env.Type, ch.Kind), nil)
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return malformed("missing data", nil)
	}

	msg, err := parsePayload(env)
	if err != nil {
		return malformed("invalid "+string(env.Type)+" payload", err)
	}
	if err := msg.Validate(); err != nil {
		return malformed("invalid "+string(env.Type), err)
	}
	if room := roomOf(msg); room != "" && room != ch.RoomID {
		return malformed(fmt.Sprintf("payload room %q does not match channel", room), nil)
	}
	if vs, ok := msg.(ViewState); ok && vs.User.UserID != ch.UserID {
		return malformed(fmt.Sprintf("view state user %q does not match channel", vs.User.UserID), nil)
	}

	return Inbound{
		Channel:   channel,
		ID:        env.ID,
		Timestamp: env.Timestamp,
		Message:   msg,
	}, nil
}

// parsePayload parses envelope data into the payload struct for its type
func parsePayload(env Envelope) (Message, error) {
	switch env.Type {
	case TypeRoomUpdated:
		return unmarshalAs[RoomUpdated](env.Data)
	case TypeGameStarted:
		return unmarshalAs[GameStarted](env.Data)
	case TypeGameEnded:
		return unmarshalAs[GameEnded](env.Data)
	case TypeSubmissionMade:
		return unmarshalAs[SubmissionMade](env.Data)
	case TypeRosterChanged:
		return unmarshalAs[RosterChanged](env.Data)
	case TypeViewState:
		return unmarshalAs[ViewState](env.Data)
	case TypeNewSpectator:
		return unmarshalAs[NewSpectator](env.Data)
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func unmarshalAs[T Message](data json.RawMessage) (Message, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
