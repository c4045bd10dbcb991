package core

import (
	"time"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Message is the domain model for a direct chat message.
type Message struct {
	ID              int64
	ClientID        string
	ConversationKey string
	SenderID        string
	SenderName      string
	RecipientID     string
	Body            string
	Status          store.MessageStatus
	ClientTimestamp time.Time
	CreatedAt       time.Time
}

// MessageHandle is returned to the sender once a message is durably stored.
type MessageHandle struct {
	// ClientID is the provisional id the sender used before the durable id was known.
	ClientID string
	Message  Message
	// Delivered counts the recipient connections that accepted the live event.
	Delivered int
}

func messageFromStore(m *store.Message) Message {
	return Message{
		ID:              m.ID,
		ClientID:        m.ClientID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		RecipientID:     m.RecipientID,
		Body:            m.Body,
		Status:          m.Status,
		ClientTimestamp: m.ClientTimestamp,
		CreatedAt:       m.CreatedAt,
	}
}

func (m Message) toStore() *store.Message {
	return &store.Message{
		ID:              m.ID,
		ClientID:        m.ClientID,
		ConversationKey: m.ConversationKey,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		RecipientID:     m.RecipientID,
		Body:            m.Body,
		Status:          m.Status,
		ClientTimestamp: m.ClientTimestamp,
		CreatedAt:       m.CreatedAt,
	}
}
