package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNicknameLength is the longest nickname a user may pick.
const MaxNicknameLength = 16

// User represents a member of a room
type User struct {
	Nickname   string `json:"nickname"`
	UserID     string `json:"user_id,omitempty"`    // assigned by the server on join
	Spectator  bool   `json:"spectator,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	AccountUID string `json:"account_uid,omitempty"` // linked account, if any
}

// SameAs reports whether u and other refer to the same room member.
// Nicknames are unique within a room, so they are the fallback key before a user id is assigned.
func (u User) SameAs(other User) bool {
	if u.UserID != "" && other.UserID != "" {
		return u.UserID == other.UserID
	}
	return u.Nickname == other.Nickname
}

// InvalidNicknameError is returned when a nickname fails validation.
type InvalidNicknameError struct {
	Nickname string
	Reason   string
}

func (e *InvalidNicknameError) Error() string {
	return fmt.Sprintf("invalid nickname %q: %s", e.Nickname, e.Reason)
}

// ValidateNickname checks that a nickname is non-empty, has no spaces and is at most 16 characters.
func ValidateNickname(nickname string) error {
	switch {
	case nickname == "":
		return &InvalidNicknameError{Nickname: nickname, Reason: "must not be empty"}
	case strings.Contains(nickname, " "):
		return &InvalidNicknameError{Nickname: nickname, Reason: "must not contain spaces"}
	case utf8.RuneCountInString(nickname) > MaxNicknameLength:
		return &InvalidNicknameError{
			Nickname: nickname,
			Reason:   fmt.Sprintf("must be at most %d characters", MaxNicknameLength),
		}
	}
	return nil
}

// IsValidNickname reports whether ValidateNickname accepts the nickname.
func IsValidNickname(nickname string) bool {
	return ValidateNickname(nickname) == nil
}
