package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const feedBuffer = 64

// Feed decorates a MessageStore with live, ordered per-conversation subscriptions.
// Every successful Append and every status change is published to the
// subscribers of the message's conversation.
//
// Writes to one conversation are stored and published under a per-conversation
// lock, so subscribers see appends in id order.
type Feed struct {
	MessageStore

	mu    sync.Mutex
	subs  map[string]map[*feedSub]struct{}
	locks map[string]*convLock
}

type feedSub struct {
	ch chan *Message
	// lagged is set when a publish found ch full; the reader resyncs from the store.
	lagged atomic.Bool
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewFeed wraps st.
func NewFeed(st MessageStore) *Feed {
	return &Feed{
		MessageStore: st,
		subs:         make(map[string]map[*feedSub]struct{}),
		locks:        make(map[string]*convLock),
	}
}

// Append persists the message and publishes the stored copy.
func (f *Feed) Append(ctx context.Context, msg *Message) (int64, time.Time, error) {
	unlock := f.lock(msg.ConversationKey)
	defer unlock()

	id, createdAt, err := f.MessageStore.Append(ctx, msg)
	if err != nil {
		return 0, time.Time{}, err
	}

	published := *msg
	published.ID = id
	published.CreatedAt = createdAt
	published.Status = StatusSent
	f.publish(&published)

	return id, createdAt, nil
}

// AdvanceStatus updates the status and publishes the updated message when it changed.
func (f *Feed) AdvanceStatus(ctx context.Context, conversationKey string, id int64, to MessageStatus) (MessageStatus, bool, error) {
	unlock := f.lock(conversationKey)
	defer unlock()

	status, changed, err := f.MessageStore.AdvanceStatus(ctx, conversationKey, id, to)
	if err != nil || !changed {
		return status, changed, err
	}

	if msg, getErr := f.MessageStore.GetMessage(ctx, conversationKey, id); getErr == nil {
		f.publish(msg)
	}
	return status, changed, nil
}

// SubscribeOrdered streams the conversation from the beginning in ascending id
// order and then follows live appends and status changes until ctx is done.
// Each message is emitted again only when its status advanced. Resubscribing
// restarts the stream from the beginning.
func (f *Feed) SubscribeOrdered(ctx context.Context, conversationKey string) (<-chan *Message, error) {
	sub := &feedSub{ch: make(chan *Message, feedBuffer)}

	// The replay boundary and the subscription are taken together: a write is
	// either in history or published to sub, never both or neither.
	unlock := f.lock(conversationKey)
	f.add(conversationKey, sub)
	history, err := f.MessageStore.ListMessages(ctx, conversationKey, 0, 0)
	unlock()
	if err != nil {
		f.remove(conversationKey, sub)
		return nil, err
	}

	out := make(chan *Message)
	go func() {
		defer close(out)
		defer f.remove(conversationKey, sub)

		seen := make(map[int64]MessageStatus, len(history))
		emit := func(msg *Message) bool {
			if status, ok := seen[msg.ID]; ok && msg.Status <= status {
				return true
			}
			seen[msg.ID] = msg.Status
			select {
			case out <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, msg := range history {
			if !emit(msg) {
				return
			}
		}

		for {
			select {
			case msg := <-sub.ch:
				if sub.lagged.Swap(false) {
					missed, err := f.MessageStore.ListMessages(ctx, conversationKey, 0, 0)
					if err != nil {
						return
					}
					for _, m := range missed {
						if !emit(m) {
							return
						}
					}
				}
				if !emit(msg) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (f *Feed) lock(key string) func() {
	f.mu.Lock()
	l, ok := f.locks[key]
	if !ok {
		l = &convLock{}
		f.locks[key] = l
	}
	l.refs++
	f.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		f.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(f.locks, key)
		}
		f.mu.Unlock()
	}
}

func (f *Feed) add(key string, sub *feedSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[key]
	if !ok {
		set = make(map[*feedSub]struct{})
		f.subs[key] = set
	}
	set[sub] = struct{}{}
}

func (f *Feed) remove(key string, sub *feedSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, key)
		}
	}
}

func (f *Feed) publish(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[msg.ConversationKey] {
		select {
		case sub.ch <- msg:
		default:
			sub.lagged.Store(true)
		}
	}
}
