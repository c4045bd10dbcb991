package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// Reconciler advances message delivery status: sending -> sent -> delivered -> read.
// The store is the source of truth and refuses backward moves; every applied
// transition is reported to the sender's connections.
type Reconciler struct {
	store   store.MessageStore
	fanout  *Fanout
	timeout time.Duration
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// NewReconciler builds a reconciler. timeout bounds each store call.
func NewReconciler(st store.MessageStore, fanout *Fanout, timeout time.Duration, logger *zerolog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:   st,
		fanout:  fanout,
		timeout: timeout,
		log:     logger,
		metrics: m,
	}
}

// MarkSent fires sending -> sent after a successful durable append.
// It returns false if msg was not in the sending state.
func (r *Reconciler) MarkSent(msg *Message) bool {
	if msg.Status != store.StatusSending {
		return false
	}
	msg.Status = store.StatusSent
	r.metrics.StatusAdvanced(store.StatusSent.String())
	r.notifySender(*msg)
	return true
}

// MarkDelivered fires sent -> delivered. Applying it again is a no-op.
func (r *Reconciler) MarkDelivered(ctx context.Context, msg Message) (store.MessageStatus, error) {
	return r.advance(ctx, msg, store.StatusDelivered)
}

// MarkRead fires delivered -> read on an explicit acknowledgment from the recipient.
func (r *Reconciler) MarkRead(ctx context.Context, readerID string, conv Conversation, id int64) (store.MessageStatus, error) {
	if !conv.Has(readerID) {
		return 0, fmt.Errorf("%w: %s is not in this conversation", ErrNotParticipant, readerID)
	}

	boundCtx, cancel := r.bound(ctx)
	stored, err := r.store.GetMessage(boundCtx, conv.Key(), id)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("load message %d: %w", id, err)
	}
	if stored.RecipientID != readerID {
		return stored.Status, fmt.Errorf("%w: only the recipient can mark a message read", ErrNotParticipant)
	}

	return r.advance(ctx, messageFromStore(stored), store.StatusRead)
}

// ReconcileOpened moves every message addressed to userID that is still at
// sent to delivered. It runs when the recipient opens the conversation.
func (r *Reconciler) ReconcileOpened(ctx context.Context, userID string, conv Conversation) (int, error) {
	boundCtx, cancel := r.bound(ctx)
	pending, err := r.store.PendingFor(boundCtx, conv.Key(), userID)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("load pending messages: %w", err)
	}

	advanced := 0
	for _, stored := range pending {
		if _, err := r.MarkDelivered(ctx, messageFromStore(stored)); err != nil {
			return advanced, err
		}
		advanced++
	}
	return advanced, nil
}

func (r *Reconciler) advance(ctx context.Context, msg Message, to store.MessageStatus) (store.MessageStatus, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	status, changed, err := r.store.AdvanceStatus(ctx, msg.ConversationKey, msg.ID, to)
	if err != nil {
		return status, fmt.Errorf("advance message %d to %s: %w", msg.ID, to, err)
	}
	if !changed {
		return status, nil
	}

	msg.Status = status
	r.metrics.StatusAdvanced(status.String())
	r.log.Debug().
		Int64("message_id", msg.ID).
		Str("conversation", msg.ConversationKey).
		Str("status", status.String()).
		Msg("message status advanced")
	r.notifySender(msg)
	return status, nil
}

func (r *Reconciler) notifySender(msg Message) {
	r.fanout.Deliver(msg.SenderID, &Event{
		Kind:            EventMessageStatus,
		ConversationKey: msg.ConversationKey,
		Message:         msg,
		ClientID:        msg.ClientID,
	})
}

// bound detaches ctx from its caller and limits it to the store timeout, so a
// disconnect never interrupts a status write.
func (r *Reconciler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, r.timeout)
}

func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
