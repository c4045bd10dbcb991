// Package client is a Go client for the relay's websocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/chatrelay/internal/proto"
)

const incomingBuffer = 64

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("session closed")

// Incoming is one decoded frame from the relay. Exactly one payload field is set.
type Incoming struct {
	Event   string
	Joined  *proto.EventJoinedData
	Message *proto.Message
	Typing  *proto.EventTypingData
	Status  *proto.EventStatusData
	History *proto.EventHistoryData
	Error   *proto.Error
}

// Session is one websocket connection to the relay. It is owned by the caller
// and safe for concurrent use.
type Session struct {
	conn   *websocket.Conn
	events chan Incoming
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	userID string
	err    error
}

// Dial connects to the relay's websocket endpoint, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		events: make(chan Incoming, incomingBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(readCtx)
	return s, nil
}

// Events delivers decoded frames until the connection ends.
func (s *Session) Events() <-chan Incoming {
	return s.events
}

// Err returns the error that ended the read loop, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// UserID returns the identity sent with Join.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Join binds the connection to userID. token may be empty when the relay trusts joins.
func (s *Session) Join(ctx context.Context, userID, username, token string) error {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	return s.write(ctx, proto.InboundTypeJoin, proto.JoinData{
		UserID:   userID,
		Username: username,
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
}

// Send transmits a message and returns its provisional form. The relay later
// confirms it with a message_status event carrying the same client id.
func (s *Session) Send(ctx context.Context, recipientID, body string) (Provisional, error) {
	p := Provisional{
		LocalID:     uuid.NewString(),
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now(),
	}
	err := s.write(ctx, proto.InboundTypeSendMessage, proto.SendMessageData{
		SenderID:        s.UserID(),
		RecipientID:     recipientID,
		Body:            body,
		ClientID:        p.LocalID,
		ClientTimestamp: p.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return Provisional{}, err
	}
	return p, nil
}

// Typing reports whether the local user is typing to recipientID.
func (s *Session) Typing(ctx context.Context, recipientID string, isTyping bool) error {
	return s.write(ctx, proto.InboundTypeTyping, proto.TypingData{
		UserID:      s.UserID(),
		RecipientID: recipientID,
		IsTyping:    isTyping,
	})
}

// Open requests the conversation with peerID after afterID.
func (s *Session) Open(ctx context.Context, peerID string, afterID int64) error {
	return s.write(ctx, proto.InboundTypeOpen, proto.OpenData{PeerID: peerID, AfterID: afterID})
}

// Read acknowledges that messageID from peerID was viewed.
func (s *Session) Read(ctx context.Context, peerID string, messageID int64) error {
	return s.write(ctx, proto.InboundTypeRead, proto.ReadData{PeerID: peerID, MessageID: messageID})
}

// Close ends the session and waits for the read loop to exit.
func (s *Session) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "bye")
	s.cancel()
	<-s.done
	return err
}

func (s *Session) write(ctx context.Context, typ string, data any) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, s.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		var f frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		in, err := decode(f)
		if err != nil {
			in = Incoming{Event: proto.OutboundTypeError, Error: &proto.Error{Code: "decode_failed", Msg: err.Error()}}
		}

		select {
		case s.events <- in:
		case <-ctx.Done():
			return
		}
	}
}

func decode(f frame) (Incoming, error) {
	if f.Type == proto.OutboundTypeError {
		return Incoming{Event: proto.OutboundTypeError, Error: f.Error}, nil
	}

	in := Incoming{Event: f.Event}
	var target any
	switch f.Event {
	case proto.EventJoined:
		in.Joined = &proto.EventJoinedData{}
		target = in.Joined
	case proto.EventReceiveMessage:
		in.Message = &proto.Message{}
		target = in.Message
	case proto.EventTypingStatus:
		in.Typing = &proto.EventTypingData{}
		target = in.Typing
	case proto.EventMessageStatus:
		in.Status = &proto.EventStatusData{}
		target = in.Status
	case proto.EventHistory:
		in.History = &proto.EventHistoryData{}
		target = in.History
	default:
		return in, fmt.Errorf("unknown event %q", f.Event)
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return in, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return in, nil
}
