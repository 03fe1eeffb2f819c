package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection is matched by every *ConnectionError.
	ErrConnection = errors.New("database unreachable")

	// ErrNotConnected is returned when the handle is requested before Connect succeeded.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyExists is returned for a duplicate collection, project or task name.
	ErrAlreadyExists = errors.New("already exists")

	// ErrWrite is returned when the server did not acknowledge an insert.
	ErrWrite = errors.New("write not acknowledged")

	// ErrNotFound is returned when a collection or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for arguments of the wrong shape.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConnectionError reports a server that stayed unreachable for every attempt.
type ConnectionError struct {
	Addr     string
	Timeout  time.Duration // timeout used by the last attempt
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("couldn't connect to %s in less than %d ms after %d attempts: %v",
		e.Addr, e.Timeout.Milliseconds(), e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}
