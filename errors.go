package main

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code sent to clients.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Spawn validation
	CodeCardNotInHand        Code = "CARD_NOT_IN_HAND"
	CodeInvalidSide          Code = "INVALID_SIDE"
	CodeInvalidSpawnPosition Code = "INVALID_SPAWN_POSITION"
	CodeNotEnoughElixir      Code = "NOT_ENOUGH_ELIXIR"
	CodeInvalidCardType      Code = "INVALID_CARD_TYPE"
	CodeOutOfBounds          Code = "OUT_OF_BOUNDS"

	// Lookups
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeCardNotFound     Code = "CARD_NOT_FOUND"
	CodeTemplateNotFound Code = "TEMPLATE_NOT_FOUND"
	CodeTowersNotFound   Code = "TOWERS_NOT_FOUND"
	CodePlayerNotFound   Code = "PLAYER_NOT_FOUND"

	// Matchmaking
	CodeAlreadyInQueue   Code = "ALREADY_IN_QUEUE"
	CodeAlreadyInSession Code = "ALREADY_IN_SESSION"

	// Lifecycle and storage
	CodeSessionEnded        Code = "SESSION_ENDED"
	CodeConcurrencyExceeded Code = "CONCURRENCY_EXCEEDED"
	CodeVersionConflict     Code = "VERSION_CONFLICT"
	CodeCorruptSnapshot     Code = "CORRUPT_SNAPSHOT"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
)

// Error is a domain error with a code and a human readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code, so wrapped instances compare
// equal to the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Errorf builds a domain error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrCardNotInHand        = &Error{Code: CodeCardNotInHand, Message: "card not in hand"}
	ErrInvalidSide          = &Error{Code: CodeInvalidSide, Message: "invalid side"}
	ErrInvalidSpawnPosition = &Error{Code: CodeInvalidSpawnPosition, Message: "invalid spawn position"}
	ErrNotEnoughElixir      = &Error{Code: CodeNotEnoughElixir, Message: "not enough elixir"}
	ErrInvalidCardType      = &Error{Code: CodeInvalidCardType, Message: "invalid card type"}
	ErrOutOfBounds          = &Error{Code: CodeOutOfBounds, Message: "cell out of bounds"}

	ErrSessionNotFound  = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrCardNotFound     = &Error{Code: CodeCardNotFound, Message: "card not found"}
	ErrTemplateNotFound = &Error{Code: CodeTemplateNotFound, Message: "template not found"}
	ErrTowersNotFound   = &Error{Code: CodeTowersNotFound, Message: "towers not found"}
	ErrPlayerNotFound   = &Error{Code: CodePlayerNotFound, Message: "player not found"}

	ErrAlreadyInQueue   = &Error{Code: CodeAlreadyInQueue, Message: "already in queue"}
	ErrAlreadyInSession = &Error{Code: CodeAlreadyInSession, Message: "already in session"}

	ErrSessionEnded        = &Error{Code: CodeSessionEnded, Message: "session has ended"}
	ErrConcurrencyExceeded = &Error{Code: CodeConcurrencyExceeded, Message: "concurrency exceeded"}
	ErrVersionConflict     = &Error{Code: CodeVersionConflict, Message: "version conflict"}
	ErrCorruptSnapshot     = &Error{Code: CodeCorruptSnapshot, Message: "corrupt session snapshot"}
	ErrUnauthenticated     = &Error{Code: CodeUnauthenticated, Message: "not authenticated"}
)

// ConcurrencyError reports a session whose writes kept conflicting past the
// retry budget.
type ConcurrencyError struct {
	SessionID string
	Retries   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency exceeded for session %s after %d retries", e.SessionID, e.Retries)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyExceeded
}

// ErrorCode extracts the domain code from err, or CodeUnknown.
func ErrorCode(err error) Code {
	var ce *ConcurrencyError
	if errors.As(err, &ce) {
		return CodeConcurrencyExceeded
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

// IsValidation reports whether err is a rejected command the caller can fix.
func IsValidation(err error) bool {
	switch ErrorCode(err) {
	case CodeCardNotInHand, CodeInvalidSide, CodeInvalidSpawnPosition,
		CodeNotEnoughElixir, CodeInvalidCardType, CodeOutOfBounds,
		CodeAlreadyInQueue, CodeAlreadyInSession:
		return true
	}
	return false
}

// IsNotFound reports whether err is a lookup failure.
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case CodeSessionNotFound, CodeCardNotFound, CodeTemplateNotFound,
		CodeTowersNotFound, CodePlayerNotFound:
		return true
	}
	return false
}
