package client

import (
	"sync"
	"time"

	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// Entry is one line of a conversation as the local user sees it.
// It is either Provisional or Confirmed.
type Entry interface {
	ClientID() string
	Text() string
	Status() store.MessageStatus
	isEntry()
}

// Provisional is a message the local user sent that the relay has not stored yet.
type Provisional struct {
	LocalID     string
	RecipientID string
	Body        string
	CreatedAt   time.Time
}

func (p Provisional) ClientID() string            { return p.LocalID }
func (p Provisional) Text() string                { return p.Body }
func (p Provisional) Status() store.MessageStatus { return store.StatusSending }
func (Provisional) isEntry()                      {}

// Confirmed is a message with a durable id.
type Confirmed struct {
	Message proto.Message
	status  store.MessageStatus
}

func (c Confirmed) ClientID() string            { return c.Message.ClientID }
func (c Confirmed) Text() string                { return c.Message.Message }
func (c Confirmed) Status() store.MessageStatus { return c.status }
func (Confirmed) isEntry()                      {}

// ID returns the durable message id.
func (c Confirmed) ID() int64 { return c.Message.ID }

func confirmedFrom(msg proto.Message) Confirmed {
	status, err := store.ParseMessageStatus(msg.Status)
	if err != nil {
		status = store.StatusSent
	}
	return Confirmed{Message: msg, status: status}
}

// Timeline keeps the local view of one conversation: provisional entries in
// send order and confirmed entries in durable order. Statuses only move forward.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// AddProvisional appends a message that is still being sent.
func (t *Timeline) AddProvisional(p Provisional) {
	t.mu.Lock()
	t.entries = append(t.entries, p)
	t.mu.Unlock()
}

// Confirm replaces the provisional entry with clientID by its durable form.
// It returns false if no such provisional entry exists.
func (t *Timeline) Confirm(clientID string, id int64, conversationKey string, status store.MessageStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		p, ok := e.(Provisional)
		if !ok || p.LocalID != clientID {
			continue
		}
		msg := proto.Message{
			ID:              id,
			ClientID:        clientID,
			ConversationKey: conversationKey,
			RecipientID:     p.RecipientID,
			Message:         p.Body,
			Status:          status.String(),
		}
		if !p.CreatedAt.IsZero() {
			msg.Timestamp = p.CreatedAt.UnixMilli()
		}
		t.entries[i] = Confirmed{Message: msg, status: status}
		return true
	}
	return false
}

// AdvanceStatus moves a confirmed entry forward. Backward moves are ignored.
func (t *Timeline) AdvanceStatus(id int64, status store.MessageStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		c, ok := e.(Confirmed)
		if !ok || c.Message.ID != id {
			continue
		}
		if !c.status.CanAdvanceTo(status) {
			return false
		}
		c.status = status
		c.Message.Status = status.String()
		t.entries[i] = c
		return true
	}
	return false
}

// Add inserts a stored message, ignoring ids already present.
func (t *Timeline) Add(msg proto.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(msg)
}

// Merge adds a page of history.
func (t *Timeline) Merge(messages []proto.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range messages {
		t.add(msg)
	}
}

// Apply folds a relay event into the timeline.
func (t *Timeline) Apply(in Incoming) {
	switch {
	case in.Message != nil:
		t.Add(*in.Message)
	case in.History != nil:
		t.Merge(in.History.Messages)
	case in.Status != nil:
		status, err := store.ParseMessageStatus(in.Status.Status)
		if err != nil {
			return
		}
		if in.Status.ClientID != "" && t.Confirm(in.Status.ClientID, in.Status.ID, in.Status.ConversationKey, status) {
			return
		}
		t.AdvanceStatus(in.Status.ID, status)
	}
}

// Entries returns a snapshot.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// add must be called with mu held. Confirmed entries stay ordered by id;
// provisional entries stay after every confirmed one.
func (t *Timeline) add(msg proto.Message) {
	incoming := confirmedFrom(msg)

	insertAt := len(t.entries)
	for i, e := range t.entries {
		c, ok := e.(Confirmed)
		if !ok {
			if insertAt == len(t.entries) {
				insertAt = i
			}
			continue
		}
		if c.Message.ID == msg.ID {
			if c.status.CanAdvanceTo(incoming.status) {
				t.entries[i] = incoming
			}
			return
		}
		if c.Message.ID > msg.ID && i < insertAt {
			insertAt = i
		}
	}

	t.entries = append(t.entries, nil)
	copy(t.entries[insertAt+1:], t.entries[insertAt:])
	t.entries[insertAt] = incoming
}
