package mailclient

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// ConnectionError covers network, timeout and TLS failures. The watcher
// treats it as recoverable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("imap %s: connection: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the server rejected the credential. Never retried.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap login %s: rejected: %v", e.Username, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError is returned by MarkRead when the UID is gone.
type NotFoundError struct {
	UID uint32
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("imap uid %d: message not found", e.UID) }

// ParseError marks a single message whose bytes could not be decoded.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse message uid %d: %v", e.UID, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// classify wraps err from a post-login command. Server status replies
// (NO/BAD) are protocol errors and pass through; anything else means the
// connection is unusable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *imap.Error
	if errors.As(err, &ie) {
		return fmt.Errorf("imap %s: %w", op, err)
	}
	return &ConnectionError{Op: op, Err: err}
}
