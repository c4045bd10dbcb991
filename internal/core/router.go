package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// DefaultPersistTimeout bounds a durable append.
const DefaultPersistTimeout = 5 * time.Second

// SendRequest is an outbound message from a sender to one recipient.
type SendRequest struct {
	SenderID        string
	SenderName      string
	RecipientID     string
	Body            string
	ClientID        string
	ClientTimestamp time.Time
}

// RouterConfig tunes the router.
type RouterConfig struct {
	PersistTimeout time.Duration
	// MaxBodyBytes rejects longer bodies; zero disables the check.
	MaxBodyBytes int
}

// Router persists messages and relays live events to recipients.
// It takes no per-conversation lock: the store totally orders appends.
type Router struct {
	store      store.MessageStore
	fanout     *Fanout
	reconciler *Reconciler
	typing     *TypingTracker
	cfg        RouterConfig
	log        *zerolog.Logger
	metrics    *metrics.Metrics
}

// NewRouter wires a router.
func NewRouter(st store.MessageStore, fanout *Fanout, reconciler *Reconciler, typing *TypingTracker, cfg RouterConfig, logger *zerolog.Logger, m *metrics.Metrics) *Router {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	return &Router{
		store:      st,
		fanout:     fanout,
		reconciler: reconciler,
		typing:     typing,
		cfg:        cfg,
		log:        logger,
		metrics:    m,
	}
}

// Send validates, durably appends and fans out a message.
//
// A failed or timed out append returns ErrPersistenceFailed and nothing is
// relayed. Fan-out problems are never returned: the stored message is the
// source of truth and a recipient without live connections picks it up when
// it opens the conversation.
func (r *Router) Send(ctx context.Context, req SendRequest) (*MessageHandle, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: message body is empty", ErrValidation)
	}
	if r.cfg.MaxBodyBytes > 0 && len(body) > r.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: message body exceeds %d bytes", ErrValidation, r.cfg.MaxBodyBytes)
	}
	conv, err := NewConversation(req.SenderID, req.RecipientID)
	if err != nil {
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	msg := Message{
		ClientID:        clientID,
		ConversationKey: conv.Key(),
		SenderID:        req.SenderID,
		SenderName:      req.SenderName,
		RecipientID:     req.RecipientID,
		Body:            body,
		Status:          store.StatusSending,
		ClientTimestamp: req.ClientTimestamp,
	}

	id, createdAt, err := r.persist(ctx, msg)
	if err != nil {
		r.metrics.PersistFailed()
		r.log.Warn().
			Err(err).
			Str("sender_id", req.SenderID).
			Str("client_id", clientID).
			Msg("message append failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	msg.ID = id
	msg.CreatedAt = createdAt
	r.metrics.MessageSent()

	r.reconciler.MarkSent(&msg)

	delivered := r.fanout.Deliver(req.RecipientID, &Event{
		Kind:            EventReceiveMessage,
		ConversationKey: msg.ConversationKey,
		Message:         msg,
	})

	if delivered > 0 {
		status, err := r.reconciler.MarkDelivered(ctx, msg)
		if err != nil {
			r.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("mark delivered failed")
		} else {
			msg.Status = status
		}
	}

	r.log.Debug().
		Int64("message_id", msg.ID).
		Str("conversation", msg.ConversationKey).
		Int("delivered", delivered).
		Msg("message routed")

	return &MessageHandle{ClientID: clientID, Message: msg, Delivered: delivered}, nil
}

// Typing records a typing signal from senderID in its conversation with recipientID.
func (r *Router) Typing(senderID, recipientID string, isTyping bool) error {
	conv, err := NewConversation(senderID, recipientID)
	if err != nil {
		return err
	}
	r.typing.SetTyping(conv, senderID, isTyping)
	return nil
}

type appendResult struct {
	id        int64
	createdAt time.Time
	err       error
}

// persist runs the append detached from the caller so it completes even if the
// connection goes away, and stops waiting once the persist timeout expires.
func (r *Router) persist(ctx context.Context, msg Message) (int64, time.Time, error) {
	persistCtx, cancel := boundedContext(ctx, r.cfg.PersistTimeout)
	defer cancel()

	done := make(chan appendResult, 1)
	start := time.Now()
	go func() {
		id, createdAt, err := r.store.Append(persistCtx, msg.toStore())
		done <- appendResult{id: id, createdAt: createdAt, err: err}
	}()

	select {
	case res := <-done:
		r.metrics.ObservePersist(time.Since(start).Seconds())
		return res.id, res.createdAt, res.err
	case <-persistCtx.Done():
		return 0, time.Time{}, fmt.Errorf("append timed out after %s: %w", r.cfg.PersistTimeout, persistCtx.Err())
	}
}
