package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/storetest"
)

func newTempStore(t *testing.T) store.MessageStore {
	t.Helper()

	st, err := New(filepath.Join(t.TempDir(), "relay.bolt"))
	require.NoError(t, err)
	return st
}

func TestBoltStore(t *testing.T) {
	storetest.Run(t, newTempStore)
}

func TestIDsArePerConversation(t *testing.T) {
	st := newTempStore(t)
	defer st.Close()
	ctx := context.Background()

	a, _, err := st.Append(ctx, &store.Message{ConversationKey: "k1", SenderID: "a", RecipientID: "b", Body: "x"})
	require.NoError(t, err)
	b, _, err := st.Append(ctx, &store.Message{ConversationKey: "k2", SenderID: "a", RecipientID: "c", Body: "y"})
	require.NoError(t, err)

	require.Equal(t, int64(1), a)
	require.Equal(t, int64(1), b)
}

func TestCancelledContext(t *testing.T) {
	st := newTempStore(t)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := st.Append(ctx, &store.Message{ConversationKey: "k", SenderID: "a", RecipientID: "b", Body: "x"})
	require.ErrorIs(t, err, context.Canceled)
}
