package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventJoined confirms a join to the connection that sent it.
	EventJoined EventKind = iota
	// EventReceiveMessage delivers a new message to the recipient.
	EventReceiveMessage
	// EventTypingStatus tells a participant that its peer started or stopped typing.
	EventTypingStatus
	// EventMessageStatus tells the sender that a message advanced.
	EventMessageStatus
	// EventHistory delivers stored messages when a conversation is opened.
	EventHistory
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind            EventKind
	ConversationKey string
	User            string
	Username        string
	IsTyping        bool
	Message         Message
	Messages        []Message // For EventHistory
	Error           *CoreError
	// ClientID correlates an error with the send_message that caused it.
	ClientID string
}
