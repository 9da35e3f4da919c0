package api

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is matched by errors for rooms or games the server does not know.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNetwork is matched by every failure to reach the server or read its response.
	ErrNetwork = errors.New("network error")
)

// Error is the single error shape returned by every API call.
// Status is 0 when the request never produced an HTTP response.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	kind    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s", e.Message)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Unwrap exposes ErrRoomNotFound or ErrNetwork where they apply.
func (e *Error) Unwrap() error { return e.kind }
