package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin        = "join"
	InboundTypeSendMessage = "send_message"
	InboundTypeTyping      = "typing"
	InboundTypeOpen        = "open"
	InboundTypeRead        = "read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventJoined         = "joined"
	EventReceiveMessage = "receive_message"
	EventTypingStatus   = "typing_status"
	EventMessageStatus  = "message_status"
	EventHistory        = "history"
)

// JoinData binds the connection to a user.
type JoinData struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// SendMessageData is a direct message from the client. The sender is always
// the joined user; its display name comes from the join.
// Message, ReceiverID and Timestamp are accepted as aliases of Body,
// RecipientID and ClientTimestamp.
type SendMessageData struct {
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	ReceiverID  string `json:"receiverId,omitempty"`
	Body        string `json:"body,omitempty"`
	Message     string `json:"message,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	// ClientTimestamp is the client clock in unix milliseconds.
	ClientTimestamp int64 `json:"clientTimestamp,omitempty"`
	Timestamp       int64 `json:"timestamp,omitempty"`
}

// Recipient returns the addressed user, whichever field carried it.
func (d SendMessageData) Recipient() string {
	if d.RecipientID != "" {
		return d.RecipientID
	}
	return d.ReceiverID
}

// Text returns the message body, whichever field carried it.
func (d SendMessageData) Text() string {
	if d.Body != "" {
		return d.Body
	}
	return d.Message
}

// ClientTime returns the client clock in unix milliseconds, whichever field carried it.
func (d SendMessageData) ClientTime() int64 {
	if d.ClientTimestamp != 0 {
		return d.ClientTimestamp
	}
	return d.Timestamp
}

// TypingData reports a typing state change.
type TypingData struct {
	UserID      string `json:"userId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	ReceiverID  string `json:"receiverId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

// Recipient returns the addressed user, whichever field carried it.
func (d TypingData) Recipient() string {
	if d.RecipientID != "" {
		return d.RecipientID
	}
	return d.ReceiverID
}

// OpenData loads a conversation with PeerID, optionally after a known id.
type OpenData struct {
	PeerID  string `json:"peerId"`
	AfterID int64  `json:"afterId,omitempty"`
}

// ReadData acknowledges that a message was viewed.
type ReadData struct {
	PeerID    string `json:"peerId"`
	MessageID int64  `json:"messageId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is a stored message as seen by clients.
type Message struct {
	ID              int64  `json:"id"`
	ClientID        string `json:"clientId,omitempty"`
	ConversationKey string `json:"conversationKey"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName,omitempty"`
	RecipientID     string `json:"recipientId"`
	Message         string `json:"message"`
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
}

// EventJoinedData confirms a join.
type EventJoinedData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Protocol int    `json:"protocol"`
}

// EventTypingData tells a participant its peer is (not) typing.
type EventTypingData struct {
	ConversationKey string `json:"conversationKey"`
	UserID          string `json:"userId"`
	IsTyping        bool   `json:"isTyping"`
}

// EventStatusData reports a delivery status change to the sender.
type EventStatusData struct {
	ID              int64  `json:"id"`
	ClientID        string `json:"clientId,omitempty"`
	ConversationKey string `json:"conversationKey"`
	Status          string `json:"status"`
}

// EventHistoryData carries stored messages of one conversation in order.
type EventHistoryData struct {
	ConversationKey string    `json:"conversationKey"`
	PeerID          string    `json:"peerId"`
	Messages        []Message `json:"messages"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code     string `json:"code"`
	Msg      string `json:"msg"`
	ClientID string `json:"clientId,omitempty"`
}
