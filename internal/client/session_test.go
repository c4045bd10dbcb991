package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/client"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatrelay/internal/transport/http"
)

func startRelay(t *testing.T) string {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	feed := store.NewFeed(st)

	logger := zerolog.Nop()
	hub := core.NewHub(feed, core.Options{}, &logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := config.Default()
	ts := httptest.NewServer(transporthttp.NewRouter(transporthttp.Deps{Hub: hub, Feed: feed}, &cfg, &logger))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func next(t *testing.T, s *client.Session, event string) client.Incoming {
	t.Helper()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case in, ok := <-s.Events():
			require.True(t, ok, "session closed: %v", s.Err())
			if in.Event == event {
				return in
			}
		case <-timeout:
			t.Fatalf("no %s event", event)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, alice.Join(ctx, "uidA", "Alice", ""))
	next(t, alice, proto.EventJoined)
	require.NoError(t, bob.Join(ctx, "uidB", "Bob", ""))
	next(t, bob, proto.EventJoined)

	timeline := client.NewTimeline()
	p, err := alice.Send(ctx, "uidB", "hello")
	require.NoError(t, err)
	timeline.AddProvisional(p)

	received := next(t, bob, proto.EventReceiveMessage)
	require.Equal(t, "uidA", received.Message.SenderID)
	require.Equal(t, "hello", received.Message.Message)

	timeline.Apply(next(t, alice, proto.EventMessageStatus))
	timeline.Apply(next(t, alice, proto.EventMessageStatus))

	entries := timeline.Entries()
	require.Len(t, entries, 1)
	confirmed, ok := entries[0].(client.Confirmed)
	require.True(t, ok)
	require.Equal(t, received.Message.ID, confirmed.ID())
	require.Equal(t, store.StatusDelivered, confirmed.Status())

	require.NoError(t, bob.Typing(ctx, "uidA", true))
	typing := next(t, alice, proto.EventTypingStatus)
	require.True(t, typing.Typing.IsTyping)

	require.NoError(t, bob.Read(ctx, "uidA", received.Message.ID))
	timeline.Apply(next(t, alice, proto.EventMessageStatus))
	require.Equal(t, store.StatusRead, timeline.Entries()[0].Status())
}

func TestSessionReportsErrors(t *testing.T) {
	url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := client.Dial(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Open(ctx, "uidB", 0))
	in := next(t, s, proto.OutboundTypeError)
	require.Equal(t, core.ErrCodeNotJoined, in.Error.Code)
}

func TestSessionClose(t *testing.T) {
	url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := client.Dial(ctx, url)
	require.NoError(t, err)
	_ = s.Close()

	_, ok := <-s.Events()
	require.False(t, ok)
	require.ErrorIs(t, s.Typing(ctx, "uidB", true), client.ErrClosed)
}
