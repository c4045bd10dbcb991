package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
)

type testServer struct {
	*httptest.Server
	hub  *core.Hub
	feed *store.Feed
}

func startTestServer(t *testing.T, cfg config.Config, withDeps func(*Deps)) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	feed := store.NewFeed(st)

	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := core.NewHub(feed, core.Options{
		PersistTimeout:    cfg.PersistTimeout,
		TypingQuietWindow: cfg.TypingQuietWindow,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		HistoryLimit:      cfg.HistoryLimit,
	}, &logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	deps := Deps{Hub: hub, Feed: feed, Metrics: m, Gatherer: reg}
	if withDeps != nil {
		withDeps(&deps)
	}

	ts := httptest.NewServer(NewRouter(deps, &cfg, &logger))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testServer{Server: ts, hub: hub, feed: feed}
}

func (ts *testServer) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}))
}

// readEvent skips frames until the named event arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, into any) {
	t.Helper()

	for {
		var out rawOutbound
		require.NoError(t, wsjson.Read(ctx, conn, &out))
		if out.Type == proto.OutboundTypeEvent && out.Event == event {
			if into != nil {
				require.NoError(t, json.Unmarshal(out.Data, into))
			}
			return
		}
	}
}

// readError skips frames until an error arrives.
func readError(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		var out rawOutbound
		require.NoError(t, wsjson.Read(ctx, conn, &out))
		if out.Type == proto.OutboundTypeError {
			require.NotNil(t, out.Error)
			return out.Error
		}
	}
}

func join(t *testing.T, ctx context.Context, conn *websocket.Conn, data proto.JoinData) proto.EventJoinedData {
	t.Helper()

	send(t, ctx, conn, proto.InboundTypeJoin, data)
	var joined proto.EventJoinedData
	readEvent(t, ctx, conn, proto.EventJoined, &joined)
	return joined
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
