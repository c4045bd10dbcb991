package core

import (
	"errors"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeValidation        = "validation_failed"
	ErrCodePersistenceFailed = "persistence_failed"
	ErrCodeNotJoined         = "not_joined"
	ErrCodeNotParticipant    = "not_participant"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal_error"
)

var (
	// ErrValidation rejects a request before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrPersistenceFailed means the durable append did not complete within its bound.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrFanoutFailed marks a connection that could not take a live event. It is only logged.
	ErrFanoutFailed = errors.New("fanout failed")
	// ErrNotJoined is returned for commands sent before join.
	ErrNotJoined = errors.New("not joined")
	// ErrNotParticipant is returned when a user acts on a message it is not the recipient of.
	ErrNotParticipant = errors.New("not a participant")

	// ErrConnClosed is returned by Deliver on a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned by Deliver when the outbound queue is full.
	ErrSlowConsumer = errors.New("connection send queue full")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError maps an error returned by the hub to its wire code.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrValidation):
		return coreError(ErrCodeValidation, err.Error())
	case errors.Is(err, ErrPersistenceFailed):
		return coreError(ErrCodePersistenceFailed, "message could not be stored, retry")
	case errors.Is(err, ErrNotJoined):
		return coreError(ErrCodeNotJoined, "join first")
	case errors.Is(err, ErrNotParticipant):
		return coreError(ErrCodeNotParticipant, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return coreError(ErrCodeNotFound, "message not found")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
