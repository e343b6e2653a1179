// Package services defines the business logic for chats, messages, votes,
// and stream resumption. This file centralizes service-level error values
// and the typed DomainError used for safety-critical storage failures, so
// handlers can translate outcomes into HTTP statuses consistently.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrChatNotFound indicates that the requested chat does not exist or is
	// not accessible to the current user.
	ErrChatNotFound = errors.New("chat not found")

	// ErrChatExists is returned when creating a chat whose caller-supplied id
	// is already taken.
	ErrChatExists = errors.New("chat id already exists")

	// ErrForbidden is returned when the caller is not allowed to act on the
	// target chat or message.
	ErrForbidden = errors.New("not allowed")

	// ErrMessageNotFound indicates that the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidVisibility is returned for visibility values outside
	// {private, public}.
	ErrInvalidVisibility = errors.New("visibility must be private or public")

	// ErrQuotaExceeded is returned when the caller has sent more messages in
	// the rolling window than their quota allows.
	ErrQuotaExceeded = errors.New("message quota exceeded")

	// ErrStreamActive is returned when a second generation is started for a
	// chat that already has a live stream.
	ErrStreamActive = errors.New("a generation is already in progress for this chat")

	// ErrStreamSuperseded is returned when output is appended with a stream id
	// that is no longer the chat's current writer.
	ErrStreamSuperseded = errors.New("stream id is no longer current")
)

// Stable kinds carried by DomainError. The boundary layer maps them to
// status codes; clients can branch on them.
const (
	KindBadRequestDB = "bad_request:database"
	KindNotFoundDB   = "not_found:database"
)

// DomainError wraps a safety-critical storage failure with a stable,
// machine-readable kind. Best-effort operations never produce one; they
// degrade silently instead.
type DomainError struct {
	Kind    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError builds a DomainError with the given kind and message.
func NewDomainError(kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: cause}
}

// DomainKind extracts the kind from err, or "" when err is not a DomainError.
func DomainKind(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
