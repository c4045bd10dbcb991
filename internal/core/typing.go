package core

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingQuietWindow is how long a typing signal stays true without a refresh.
const DefaultTypingQuietWindow = time.Second

const typingSubBuffer = 16

// TypingChange is published whenever a user starts or stops typing in a conversation.
type TypingChange struct {
	Conversation Conversation
	UserID       string
	IsTyping     bool
}

type typingKey struct {
	conv string
	user string
}

type typingEntry struct {
	conv   Conversation
	typing bool
	// gen identifies the latest arm; an expiry carrying an older gen is stale.
	gen   uint64
	timer *time.Timer
}

type typingSub struct {
	ch chan TypingChange
}

// TypingTracker holds ephemeral per-conversation typing state.
// Observers registered with OnChange run with the tracker lock held and must
// not call back into the tracker.
type TypingTracker struct {
	quiet time.Duration

	mu        sync.Mutex
	entries   map[typingKey]*typingEntry
	subs      map[string]map[*typingSub]struct{}
	observers []func(TypingChange)
	closed    bool
}

// NewTypingTracker creates a tracker with the given quiet window.
func NewTypingTracker(quiet time.Duration) *TypingTracker {
	if quiet <= 0 {
		quiet = DefaultTypingQuietWindow
	}
	return &TypingTracker{
		quiet:   quiet,
		entries: make(map[typingKey]*typingEntry),
		subs:    make(map[string]map[*typingSub]struct{}),
	}
}

// QuietWindow returns the configured expiry.
func (t *TypingTracker) QuietWindow() time.Duration {
	return t.quiet
}

// SetTyping overwrites the state for (conv, userID). True re-arms the expiry,
// false clears it. Only transitions are published.
func (t *TypingTracker) SetTyping(conv Conversation, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	key := typingKey{conv: conv.Key(), user: userID}
	entry, ok := t.entries[key]
	if !ok {
		if !isTyping {
			return
		}
		entry = &typingEntry{conv: conv}
		t.entries[key] = entry
	}

	entry.gen++
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}

	changed := entry.typing != isTyping
	entry.typing = isTyping

	if isTyping {
		gen := entry.gen
		entry.timer = time.AfterFunc(t.quiet, func() { t.expire(key, gen) })
	} else {
		delete(t.entries, key)
	}

	if changed {
		t.publish(TypingChange{Conversation: conv, UserID: userID, IsTyping: isTyping})
	}
}

// IsTyping reports the current state for (convKey, userID).
func (t *TypingTracker) IsTyping(convKey, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[typingKey{conv: convKey, user: userID}]
	return ok && entry.typing
}

// Subscribe streams changes for one conversation until ctx is cancelled,
// then closes the channel. Slow subscribers miss changes instead of blocking.
func (t *TypingTracker) Subscribe(ctx context.Context, convKey string) <-chan TypingChange {
	sub := &typingSub{ch: make(chan TypingChange, typingSubBuffer)}

	t.mu.Lock()
	set, ok := t.subs[convKey]
	if !ok {
		set = make(map[*typingSub]struct{})
		t.subs[convKey] = set
	}
	set[sub] = struct{}{}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		if set, ok := t.subs[convKey]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(t.subs, convKey)
			}
		}
		close(sub.ch)
	}()

	return sub.ch
}

// OnChange registers an observer for every conversation.
func (t *TypingTracker) OnChange(fn func(TypingChange)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Close stops all pending expiries. Later SetTyping calls are ignored.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, key)
	}
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok || entry.gen != gen || !entry.typing {
		return
	}
	delete(t.entries, key)
	t.publish(TypingChange{Conversation: entry.conv, UserID: key.user, IsTyping: false})
}

// publish must be called with mu held.
func (t *TypingTracker) publish(change TypingChange) {
	for sub := range t.subs[change.Conversation.Key()] {
		select {
		case sub.ch <- change:
		default:
		}
	}
	for _, fn := range t.observers {
		fn(change)
	}
}
