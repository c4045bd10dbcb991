package http

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)

	conn := ts.dial(t, ctx)
	join(t, ctx, conn, proto.JoinData{UserID: "uidA"})

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "chatrelay_connections_active 1")
}

func TestWebSocketSendToOnlineRecipient(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)

	connA := ts.dial(t, ctx)
	connB := ts.dial(t, ctx)

	joined := join(t, ctx, connA, proto.JoinData{UserID: "uidA", Username: "Alice"})
	require.Equal(t, "uidA", joined.UserID)
	require.Equal(t, proto.ProtocolVersion, joined.Protocol)
	join(t, ctx, connB, proto.JoinData{UserID: "uidB", Username: "Bob"})

	send(t, ctx, connA, proto.InboundTypeSendMessage, proto.SendMessageData{
		SenderID:   "uidA",
		ReceiverID: "uidB",
		Message:    "hello",
		ClientID:   "tmp-1",
		Timestamp:  time.Now().UnixMilli(),
	})

	var received proto.Message
	readEvent(t, ctx, connB, proto.EventReceiveMessage, &received)
	require.Equal(t, "uidA", received.SenderID)
	require.Equal(t, "Alice", received.SenderName)
	require.Equal(t, "hello", received.Message)
	require.Equal(t, "tmp-1", received.ClientID)
	require.NotZero(t, received.Timestamp)

	var status proto.EventStatusData
	readEvent(t, ctx, connA, proto.EventMessageStatus, &status)
	require.Equal(t, "sent", status.Status)
	require.Equal(t, "tmp-1", status.ClientID)
	readEvent(t, ctx, connA, proto.EventMessageStatus, &status)
	require.Equal(t, "delivered", status.Status)
	require.Equal(t, received.ID, status.ID)
}

func TestWebSocketSendToOfflineRecipientThenOpen(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)

	connA := ts.dial(t, ctx)
	join(t, ctx, connA, proto.JoinData{UserID: "uidA"})
	send(t, ctx, connA, proto.InboundTypeSendMessage, proto.SendMessageData{RecipientID: "uidB", Body: "are you there?"})

	var status proto.EventStatusData
	readEvent(t, ctx, connA, proto.EventMessageStatus, &status)
	require.Equal(t, "sent", status.Status)

	connB := ts.dial(t, ctx)
	join(t, ctx, connB, proto.JoinData{UserID: "uidB"})
	send(t, ctx, connB, proto.InboundTypeOpen, proto.OpenData{PeerID: "uidA"})

	var history proto.EventHistoryData
	readEvent(t, ctx, connB, proto.EventHistory, &history)
	require.Len(t, history.Messages, 1)
	require.Equal(t, "are you there?", history.Messages[0].Message)
	require.Equal(t, "delivered", history.Messages[0].Status)

	readEvent(t, ctx, connA, proto.EventMessageStatus, &status)
	require.Equal(t, "delivered", status.Status)

	send(t, ctx, connB, proto.InboundTypeRead, proto.ReadData{PeerID: "uidA", MessageID: status.ID})
	readEvent(t, ctx, connA, proto.EventMessageStatus, &status)
	require.Equal(t, "read", status.Status)
}

func TestWebSocketTypingRelay(t *testing.T) {
	cfg := config.Default()
	cfg.TypingQuietWindow = 100 * time.Millisecond
	ts := startTestServer(t, cfg, nil)
	ctx := testContext(t)

	connA := ts.dial(t, ctx)
	connB := ts.dial(t, ctx)
	join(t, ctx, connA, proto.JoinData{UserID: "uidA"})
	join(t, ctx, connB, proto.JoinData{UserID: "uidB"})

	send(t, ctx, connA, proto.InboundTypeTyping, proto.TypingData{UserID: "uidA", ReceiverID: "uidB", IsTyping: true})

	var typing proto.EventTypingData
	readEvent(t, ctx, connB, proto.EventTypingStatus, &typing)
	require.Equal(t, "uidA", typing.UserID)
	require.True(t, typing.IsTyping)

	readEvent(t, ctx, connB, proto.EventTypingStatus, &typing)
	require.False(t, typing.IsTyping)
}

func TestWebSocketErrors(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)
	conn := ts.dial(t, ctx)

	send(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{RecipientID: "uidB", Body: "early"})
	require.Equal(t, core.ErrCodeNotJoined, readError(t, ctx, conn).Code)

	send(t, ctx, conn, "shout", map[string]string{})
	require.Equal(t, core.ErrCodeBadRequest, readError(t, ctx, conn).Code)

	join(t, ctx, conn, proto.JoinData{UserID: "uidA"})

	send(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{RecipientID: "uidB", Body: "  ", ClientID: "tmp-9"})
	protoErr := readError(t, ctx, conn)
	require.Equal(t, core.ErrCodeValidation, protoErr.Code)
	require.Equal(t, "tmp-9", protoErr.ClientID)

	send(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{SenderID: "uidX", RecipientID: "uidB", Body: "spoof"})
	require.Equal(t, core.ErrCodeValidation, readError(t, ctx, conn).Code)

	send(t, ctx, conn, proto.InboundTypeRead, proto.ReadData{PeerID: "uidB", MessageID: 42})
	require.Equal(t, core.ErrCodeNotFound, readError(t, ctx, conn).Code)
}

func TestProtocolVersionMismatch(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)
	conn := ts.dial(t, ctx)

	send(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{UserID: "uidA", Protocol: proto.ProtocolVersion + 1})
	require.Equal(t, "unsupported_version", readError(t, ctx, conn).Code)
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimitPerMinute = 2
	ts := startTestServer(t, cfg, nil)
	ctx := testContext(t)
	conn := ts.dial(t, ctx)

	join(t, ctx, conn, proto.JoinData{UserID: "uidA"})
	send(t, ctx, conn, proto.InboundTypeTyping, proto.TypingData{RecipientID: "uidB", IsTyping: true})
	send(t, ctx, conn, proto.InboundTypeTyping, proto.TypingData{RecipientID: "uidB", IsTyping: false})

	require.Equal(t, core.ErrCodeRateLimited, readError(t, ctx, conn).Code)
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)

	conn := ts.dial(t, ctx)
	join(t, ctx, conn, proto.JoinData{UserID: "uidA"})
	require.Len(t, ts.hub.Registry().ConnectionsFor("uidA"), 1)

	require.NoError(t, conn.Close(1000, "bye"))
	require.Eventually(t, func() bool {
		return len(ts.hub.Registry().ConnectionsFor("uidA")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundSendMessageClientTimestamp(t *testing.T) {
	const ms = int64(1700000000000)

	cases := []struct {
		name string
		data string
	}{
		{name: "clientTimestamp", data: `{"recipientId":"uidB","body":"hi","clientTimestamp":1700000000000}`},
		{name: "timestamp alias", data: `{"receiverId":"uidB","message":"hi","timestamp":1700000000000}`},
		{name: "clientTimestamp wins", data: `{"recipientId":"uidB","body":"hi","clientTimestamp":1700000000000,"timestamp":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, protoErr := inboundToCommand(proto.Inbound{Type: proto.InboundTypeSendMessage, Data: []byte(tc.data)})
			require.Nil(t, protoErr)
			require.Equal(t, "uidB", cmd.RecipientID)
			require.Equal(t, "hi", cmd.Body)
			require.Equal(t, ms, cmd.ClientTimestamp.UnixMilli())
		})
	}

	cmd, protoErr := inboundToCommand(proto.Inbound{Type: proto.InboundTypeSendMessage, Data: []byte(`{"recipientId":"uidB","body":"hi"}`)})
	require.Nil(t, protoErr)
	require.True(t, cmd.ClientTimestamp.IsZero())
}

func TestInboundOpenClampsNegativeAfterID(t *testing.T) {
	cmd, protoErr := inboundToCommand(proto.Inbound{Type: proto.InboundTypeOpen, Data: []byte(`{"peerId":"uidA","afterId":-5}`)})
	require.Nil(t, protoErr)
	require.Equal(t, int64(0), cmd.AfterID)
}

func TestWebSocketClientTimestampReachesRecipient(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	ctx := testContext(t)

	connA := ts.dial(t, ctx)
	connB := ts.dial(t, ctx)
	join(t, ctx, connA, proto.JoinData{UserID: "uidA"})
	join(t, ctx, connB, proto.JoinData{UserID: "uidB"})

	sentAt := time.Now().Add(-time.Minute).UnixMilli()
	send(t, ctx, connA, proto.InboundTypeSendMessage, proto.SendMessageData{
		RecipientID:     "uidB",
		Body:            "stamped",
		ClientTimestamp: sentAt,
	})

	var received proto.Message
	readEvent(t, ctx, connB, proto.EventReceiveMessage, &received)
	require.Equal(t, "stamped", received.Message)
	require.Equal(t, sentAt, received.Timestamp)

	send(t, ctx, connB, proto.InboundTypeOpen, proto.OpenData{PeerID: "uidA", AfterID: -1})
	var history proto.EventHistoryData
	readEvent(t, ctx, connB, proto.EventHistory, &history)
	require.Len(t, history.Messages, 1)
	require.Equal(t, sentAt, history.Messages[0].Timestamp)
}
