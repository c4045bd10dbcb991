package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event, wait time.Duration) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event kind %v", ev.Kind)
		}
	case <-time.After(wait):
	}
}

func newMemoryStore(t *testing.T) store.MessageStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestHub(t *testing.T, st store.MessageStore, opts Options) *Hub {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub(st, opts, &logger, nil)
	t.Cleanup(hub.Typing().Close)
	return hub
}

func joinClient(t *testing.T, hub *Hub, connID, userID string) *Client {
	t.Helper()

	c := NewClient(connID, 16)
	require.NoError(t, hub.Join(c, userID, userID))
	mustEvent(t, c.Events, EventJoined)
	return c
}

// faultyStore wraps a real store and can fail or stall appends.
type faultyStore struct {
	store.MessageStore

	mu          sync.Mutex
	appendErr   error
	appendDelay time.Duration
	appends     int
}

func (s *faultyStore) failAppends(err error) {
	s.mu.Lock()
	s.appendErr = err
	s.mu.Unlock()
}

func (s *faultyStore) stallAppends(d time.Duration) {
	s.mu.Lock()
	s.appendDelay = d
	s.mu.Unlock()
}

func (s *faultyStore) Append(ctx context.Context, msg *store.Message) (int64, time.Time, error) {
	s.mu.Lock()
	s.appends++
	err, delay := s.appendErr, s.appendDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		}
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return s.MessageStore.Append(ctx, msg)
}
