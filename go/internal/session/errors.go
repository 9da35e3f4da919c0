package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is open or being opened.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrNotConnected is returned by every operation that needs an open connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrConnectionClosed is returned by a transport connection after Close or connection loss.
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectionError is returned when the transport fails to establish a connection.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
