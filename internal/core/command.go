package core

import "time"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin binds the connection to a user identity.
	CommandJoin CommandKind = iota
	// CommandSendMessage sends a direct message to a peer.
	CommandSendMessage
	// CommandTyping reports a typing state change.
	CommandTyping
	// CommandOpen loads a conversation and reconciles undelivered messages.
	CommandOpen
	// CommandRead acknowledges that the recipient viewed a message.
	CommandRead
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind

	// join
	UserID   string
	Username string
	Token    string

	// send_message, typing
	SenderID        string
	RecipientID     string
	Body            string
	ClientID        string
	ClientTimestamp time.Time
	IsTyping        bool

	// open, read
	PeerID    string
	AfterID   int64
	MessageID int64
}
