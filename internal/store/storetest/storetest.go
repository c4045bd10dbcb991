// Package storetest holds a behavioural suite every store.MessageStore must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.MessageStore

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAssignsMonotonicIDs", func(t *testing.T) { testAppendAssignsMonotonicIDs(t, newStore(t)) })
	t.Run("ListIsOrderedAndPaged", func(t *testing.T) { testListIsOrderedAndPaged(t, newStore(t)) })
	t.Run("ConversationsAreIsolated", func(t *testing.T) { testConversationsAreIsolated(t, newStore(t)) })
	t.Run("AdvanceStatusIsMonotonic", func(t *testing.T) { testAdvanceStatusIsMonotonic(t, newStore(t)) })
	t.Run("AdvanceStatusUnknownMessage", func(t *testing.T) { testAdvanceStatusUnknownMessage(t, newStore(t)) })
	t.Run("PendingFor", func(t *testing.T) { testPendingFor(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

func message(key, from, to, body string) *store.Message {
	return &store.Message{
		ConversationKey: key,
		ClientID:        "c-" + body,
		SenderID:        from,
		SenderName:      from,
		RecipientID:     to,
		Body:            body,
		Status:          store.StatusSending,
		ClientTimestamp: time.UnixMilli(1700000000000).UTC(),
	}
}

func testAppendAssignsMonotonicIDs(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	id1, ts1, err := st.Append(ctx, message("k", "a", "b", "one"))
	require.NoError(t, err)
	id2, ts2, err := st.Append(ctx, message("k", "b", "a", "two"))
	require.NoError(t, err)

	assert.Greater(t, id2, id1)
	assert.False(t, ts1.IsZero())
	assert.False(t, ts2.Before(ts1))

	got, err := st.GetMessage(ctx, "k", id1)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Body)
	assert.Equal(t, "a", got.SenderID)
	assert.Equal(t, "b", got.RecipientID)
	assert.Equal(t, "c-one", got.ClientID)
	assert.Equal(t, store.StatusSent, got.Status)
	assert.Equal(t, int64(1700000000000), got.ClientTimestamp.UnixMilli())
}

func testListIsOrderedAndPaged(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, _, err := st.Append(ctx, message("k", "a", "b", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := st.ListMessages(ctx, "k", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, msg := range all {
		assert.Equal(t, ids[i], msg.ID)
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Body)
	}

	page, err := st.ListMessages(ctx, "k", ids[1], 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	fromNegative, err := st.ListMessages(ctx, "k", -1, 0)
	require.NoError(t, err)
	assert.Len(t, fromNegative, 5)
}

func testConversationsAreIsolated(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	_, _, err := st.Append(ctx, message("k1", "a", "b", "for k1"))
	require.NoError(t, err)
	id2, _, err := st.Append(ctx, message("k2", "a", "c", "for k2"))
	require.NoError(t, err)

	k1, err := st.ListMessages(ctx, "k1", 0, 0)
	require.NoError(t, err)
	require.Len(t, k1, 1)
	assert.Equal(t, "for k1", k1[0].Body)

	_, err = st.GetMessage(ctx, "k1", id2)
	if id2 != k1[0].ID {
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	}

	empty, err := st.ListMessages(ctx, "missing", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testAdvanceStatusIsMonotonic(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	id, _, err := st.Append(ctx, message("k", "a", "b", "hello"))
	require.NoError(t, err)

	status, changed, err := st.AdvanceStatus(ctx, "k", id, store.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, store.StatusDelivered, status)

	// Applying the same transition again is a no-op.
	status, changed, err = st.AdvanceStatus(ctx, "k", id, store.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, store.StatusDelivered, status)

	// Backward moves never apply.
	status, changed, err = st.AdvanceStatus(ctx, "k", id, store.StatusSent)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, store.StatusDelivered, status)

	status, changed, err = st.AdvanceStatus(ctx, "k", id, store.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, store.StatusRead, status)

	got, err := st.GetMessage(ctx, "k", id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRead, got.Status)

	_, _, err = st.AdvanceStatus(ctx, "k", id, store.MessageStatus(42))
	assert.Error(t, err)
}

func testAdvanceStatusUnknownMessage(t *testing.T, st store.MessageStore) {
	defer st.Close()

	_, _, err := st.AdvanceStatus(context.Background(), "k", 999, store.StatusDelivered)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func testPendingFor(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	toB1, _, err := st.Append(ctx, message("k", "a", "b", "1"))
	require.NoError(t, err)
	toB2, _, err := st.Append(ctx, message("k", "a", "b", "2"))
	require.NoError(t, err)
	_, _, err = st.Append(ctx, message("k", "b", "a", "3"))
	require.NoError(t, err)

	_, _, err = st.AdvanceStatus(ctx, "k", toB1, store.StatusDelivered)
	require.NoError(t, err)

	pending, err := st.PendingFor(ctx, "k", "b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, toB2, pending[0].ID)
}

func testConcurrentAppends(t *testing.T, st store.MessageStore) {
	defer st.Close()
	ctx := context.Background()

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, _, err := st.Append(ctx, message("k", "a", "b", fmt.Sprintf("w%d-%d", w, i))); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := st.ListMessages(ctx, "k", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	seen := make(map[int64]struct{}, len(all))
	for i, msg := range all {
		if i > 0 {
			assert.Greater(t, msg.ID, all[i-1].ID)
		}
		seen[msg.ID] = struct{}{}
	}
	assert.Len(t, seen, writers*perWriter)
}
