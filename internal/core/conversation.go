package core

import (
	"fmt"
	"strconv"
)

// Conversation is an unordered pair of distinct participants.
// Both participants address the same conversation regardless of who initiates.
type Conversation struct {
	lo string
	hi string
}

// NewConversation normalizes the pair so that NewConversation(a, b) == NewConversation(b, a).
func NewConversation(a, b string) (Conversation, error) {
	if a == "" || b == "" {
		return Conversation{}, fmt.Errorf("%w: participant id is required", ErrValidation)
	}
	if a == b {
		return Conversation{}, fmt.Errorf("%w: sender and recipient must differ", ErrValidation)
	}
	if a > b {
		a, b = b, a
	}
	return Conversation{lo: a, hi: b}, nil
}

// ConversationKey returns the canonical key for the pair.
func ConversationKey(a, b string) (string, error) {
	conv, err := NewConversation(a, b)
	if err != nil {
		return "", err
	}
	return conv.Key(), nil
}

// Key is "dm:<len(lo)>:<lo>:<hi>". The length prefix keeps the key injective
// even when ids contain the separator.
func (c Conversation) Key() string {
	return "dm:" + strconv.Itoa(len(c.lo)) + ":" + c.lo + ":" + c.hi
}

// Participants returns both ids in canonical order.
func (c Conversation) Participants() (string, string) {
	return c.lo, c.hi
}

// Has reports whether userID takes part in the conversation.
func (c Conversation) Has(userID string) bool {
	return userID != "" && (userID == c.lo || userID == c.hi)
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.lo:
		return c.hi
	case c.hi:
		return c.lo
	default:
		return ""
	}
}

// IsZero reports whether c was never initialized.
func (c Conversation) IsZero() bool {
	return c.lo == "" && c.hi == ""
}
