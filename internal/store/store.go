package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a message does not exist in the given conversation.
var ErrNotFound = errors.New("message not found")

// MessageStatus is the delivery state of a message.
// Values are ordered: a message only ever moves to a greater status.
type MessageStatus int

const (
	StatusSending MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
)

// String returns the wire name of the status.
func (s MessageStatus) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is one of the declared statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusRead:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return s.Valid() && next.Valid() && next > s
}

// Terminal reports whether no further transition is possible.
func (s MessageStatus) Terminal() bool {
	return s == StatusRead
}

// ParseMessageStatus converts a wire name back into a MessageStatus.
func ParseMessageStatus(v string) (MessageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sending":
		return StatusSending, nil
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	default:
		return 0, fmt.Errorf("unknown message status %q", v)
	}
}

// Message represents a persisted chat message.
type Message struct {
	ID              int64
	ClientID        string
	ConversationKey string
	SenderID        string
	SenderName      string
	RecipientID     string
	Body            string
	Status          MessageStatus
	ClientTimestamp time.Time
	CreatedAt       time.Time
}

// MessageStore is the durable, append-only per-conversation message log.
// The conversation key is the partition key and the message id the sort key.
type MessageStore interface {
	// Append persists a message with status sent and returns the assigned id and server timestamp.
	// Ids are monotonic within a conversation.
	Append(ctx context.Context, msg *Message) (int64, time.Time, error)

	// ListMessages returns messages of a conversation with id > afterID in ascending id order.
	// A limit <= 0 means no limit.
	ListMessages(ctx context.Context, conversationKey string, afterID int64, limit int) ([]*Message, error)

	// GetMessage retrieves a single message.
	GetMessage(ctx context.Context, conversationKey string, id int64) (*Message, error)

	// AdvanceStatus moves a message forward to the given status.
	// It returns the status after the call and whether it changed; a non-forward request is a no-op.
	AdvanceStatus(ctx context.Context, conversationKey string, id int64, to MessageStatus) (MessageStatus, bool, error)

	// PendingFor lists messages addressed to recipientID that are still at status sent.
	PendingFor(ctx context.Context, conversationKey, recipientID string) ([]*Message, error)

	// Close closes the underlying database.
	Close() error
}
