package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

func seed(t *testing.T, ts *testServer, bodies ...string) {
	t.Helper()

	for _, body := range bodies {
		_, err := ts.hub.Router().Send(context.Background(), core.SendRequest{SenderID: "uidA", RecipientID: "uidB", Body: body})
		require.NoError(t, err)
	}
}

func getMessages(t *testing.T, ts *testServer, path, token string) (int, MessagesResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body MessagesResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestListMessagesIsOrderedAndSymmetric(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	seed(t, ts, "one", "two", "three")

	status, ab := getMessages(t, ts, "/api/conversations/uidA/uidB/messages", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, ab.Messages, 3)
	require.Equal(t, "one", ab.Messages[0].Message)
	require.Equal(t, "three", ab.Messages[2].Message)

	status, ba := getMessages(t, ts, "/api/conversations/uidB/uidA/messages", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, ab.ConversationKey, ba.ConversationKey)
	require.Len(t, ba.Messages, 3)

	path := fmt.Sprintf("/api/conversations/uidA/uidB/messages?after=%d&limit=1", ab.Messages[0].ID)
	status, page := getMessages(t, ts, path, "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "two", page.Messages[0].Message)
}

func TestListMessagesRejectsBadInput(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)

	status, _ := getMessages(t, ts, "/api/conversations/uidA/uidA/messages", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = getMessages(t, ts, "/api/conversations/uidA/uidB/messages?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestListMessagesWithJWT(t *testing.T) {
	jwtCfg := &auth.JWTConfig{Secret: []byte("testsecret"), Issuer: "test", Audience: "test", TTL: time.Hour}
	ts := startTestServer(t, config.Default(), func(d *Deps) {
		d.JWT = jwtCfg
		d.Auth = auth.NewJWT(jwtCfg)
	})
	seed(t, ts, "secret")

	status, _ := getMessages(t, ts, "/api/conversations/uidA/uidB/messages", "")
	require.Equal(t, http.StatusUnauthorized, status)

	outsider, err := auth.GenerateToken(jwtCfg, auth.Identity{UserID: "uidC"})
	require.NoError(t, err)
	status, _ = getMessages(t, ts, "/api/conversations/uidA/uidB/messages", outsider)
	require.Equal(t, http.StatusForbidden, status)

	participant, err := auth.GenerateToken(jwtCfg, auth.Identity{UserID: "uidB"})
	require.NoError(t, err)
	status, body := getMessages(t, ts, "/api/conversations/uidA/uidB/messages", participant)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Messages, 1)
}

func TestWebSocketJoinWithJWT(t *testing.T) {
	jwtCfg := &auth.JWTConfig{Secret: []byte("testsecret"), Issuer: "test", Audience: "test", TTL: time.Hour}
	ts := startTestServer(t, config.Default(), func(d *Deps) {
		d.JWT = jwtCfg
		d.Auth = auth.NewJWT(jwtCfg)
	})
	ctx := testContext(t)
	conn := ts.dial(t, ctx)

	send(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{UserID: "uidA"})
	require.Equal(t, core.ErrCodeUnauthorized, readError(t, ctx, conn).Code)

	token, err := auth.GenerateToken(jwtCfg, auth.Identity{UserID: "uidA", DisplayName: "Alice"})
	require.NoError(t, err)
	joined := join(t, ctx, conn, proto.JoinData{Token: token})
	require.Equal(t, "uidA", joined.UserID)
	require.Equal(t, "Alice", joined.Username)
}

func TestStreamReplaysThenFollows(t *testing.T) {
	ts := startTestServer(t, config.Default(), nil)
	seed(t, ts, "before")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/conversations/uidB/uidA/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	nextMessage := func() proto.Message {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
				var msg proto.Message
				require.NoError(t, json.Unmarshal([]byte(data), &msg))
				return msg
			}
		}
	}

	require.Equal(t, "before", nextMessage().Message)

	seed(t, ts, "after")
	require.Equal(t, "after", nextMessage().Message)
}
