package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// DefaultHistoryLimit caps the messages returned when a conversation is opened.
const DefaultHistoryLimit = 200

// Options tunes the hub.
type Options struct {
	PersistTimeout    time.Duration
	TypingQuietWindow time.Duration
	MaxMessageBytes   int
	HistoryLimit      int
}

// Hub wires the registry, typing tracker, router and reconciler behind the
// command interface used by the transport. Each connection calls Handle from
// its own goroutine; commands of different connections run concurrently.
type Hub struct {
	store      store.MessageStore
	registry   *Registry
	typing     *TypingTracker
	fanout     *Fanout
	reconciler *Reconciler
	router     *Router
	opts       Options
	log        *zerolog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a new chat hub instance.
func NewHub(st store.MessageStore, opts Options, logger *zerolog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}

	registry := NewRegistry()
	typing := NewTypingTracker(opts.TypingQuietWindow)
	fanout := NewFanout(registry, logger, m)
	reconciler := NewReconciler(st, fanout, opts.PersistTimeout, logger, m)
	router := NewRouter(st, fanout, reconciler, typing, RouterConfig{
		PersistTimeout: opts.PersistTimeout,
		MaxBodyBytes:   opts.MaxMessageBytes,
	}, logger, m)

	h := &Hub{
		store:      st,
		registry:   registry,
		typing:     typing,
		fanout:     fanout,
		reconciler: reconciler,
		router:     router,
		opts:       opts,
		log:        logger,
		metrics:    m,
	}
	typing.OnChange(h.relayTyping)
	return h
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Typing exposes the typing tracker.
func (h *Hub) Typing() *TypingTracker { return h.typing }

// Router exposes the message router.
func (h *Hub) Router() *Router { return h.router }

// Reconciler exposes the delivery-state reconciler.
func (h *Hub) Reconciler() *Reconciler { return h.reconciler }

// Run blocks until ctx is done, then stops typing timers and closes all connections.
// The hub has no command loop of its own: connections call Handle directly,
// so Run only owns shutdown.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.typing.Close()
	h.registry.CloseAll()
	h.metrics.SetConnections(0)
	h.log.Info().Msg("hub stopped")
}

// Join binds client to userID and registers it for fan-out.
// Joining again as a different user moves the connection (last write wins).
func (h *Hub) Join(client *Client, userID, username string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if username == "" {
		username = userID
	}

	client.setIdentity(userID, username)
	h.registry.Register(userID, client)
	h.metrics.SetConnections(h.registry.Count())

	h.log.Info().
		Str("user_id", userID).
		Str("conn_id", client.ID()).
		Msg("connection joined")

	if err := client.Deliver(&Event{Kind: EventJoined, User: userID, Username: username}); err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID()).Msg("failed to confirm join")
	}
	return nil
}

// Leave unregisters client. Calling it for an unknown connection is a no-op.
func (h *Hub) Leave(client *Client) {
	if h.registry.Unregister(client) {
		h.metrics.SetConnections(h.registry.Count())
		h.log.Info().
			Str("user_id", client.UserID()).
			Str("conn_id", client.ID()).
			Msg("connection left")
	}
}

// Handle executes one command for client. Errors are returned to the caller,
// which reports them on the same connection.
func (h *Hub) Handle(ctx context.Context, client *Client, cmd *Command) error {
	if cmd.Kind == CommandJoin {
		return h.Join(client, cmd.UserID, cmd.Username)
	}

	userID := client.UserID()
	if userID == "" {
		return ErrNotJoined
	}

	switch cmd.Kind {
	case CommandSendMessage:
		return h.send(ctx, client, userID, cmd)
	case CommandTyping:
		if cmd.SenderID != "" && cmd.SenderID != userID {
			return fmt.Errorf("%w: userId does not match the joined user", ErrValidation)
		}
		return h.router.Typing(userID, cmd.RecipientID, cmd.IsTyping)
	case CommandOpen:
		return h.open(ctx, client, userID, cmd)
	case CommandRead:
		conv, err := NewConversation(userID, cmd.PeerID)
		if err != nil {
			return err
		}
		_, err = h.reconciler.MarkRead(ctx, userID, conv, cmd.MessageID)
		return err
	default:
		return fmt.Errorf("%w: unknown command %d", ErrValidation, cmd.Kind)
	}
}

func (h *Hub) send(ctx context.Context, client *Client, userID string, cmd *Command) error {
	if cmd.SenderID != "" && cmd.SenderID != userID {
		return fmt.Errorf("%w: senderId does not match the joined user", ErrValidation)
	}

	_, err := h.router.Send(ctx, SendRequest{
		SenderID:        userID,
		SenderName:      client.Name(),
		RecipientID:     cmd.RecipientID,
		Body:            cmd.Body,
		ClientID:        cmd.ClientID,
		ClientTimestamp: cmd.ClientTimestamp,
	})
	return err
}

func (h *Hub) open(ctx context.Context, client *Client, userID string, cmd *Command) error {
	conv, err := NewConversation(userID, cmd.PeerID)
	if err != nil {
		return err
	}

	if _, err := h.reconciler.ReconcileOpened(ctx, userID, conv); err != nil {
		h.log.Warn().Err(err).Str("conversation", conv.Key()).Msg("reconcile on open failed")
	}

	listCtx, cancel := boundedContext(ctx, h.opts.PersistTimeout)
	stored, err := h.store.ListMessages(listCtx, conv.Key(), cmd.AfterID, h.opts.HistoryLimit)
	cancel()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	messages := make([]Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, messageFromStore(m))
	}

	return client.Deliver(&Event{
		Kind:            EventHistory,
		ConversationKey: conv.Key(),
		User:            cmd.PeerID,
		Messages:        messages,
	})
}

// relayTyping forwards a typing change to the peer's connections.
func (h *Hub) relayTyping(change TypingChange) {
	h.metrics.TypingChanged()
	peer := change.Conversation.Peer(change.UserID)
	if peer == "" {
		return
	}
	h.fanout.Deliver(peer, &Event{
		Kind:            EventTypingStatus,
		ConversationKey: change.Conversation.Key(),
		User:            change.UserID,
		IsTyping:        change.IsTyping,
	})
}
