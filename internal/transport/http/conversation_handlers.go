package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

const maxPageSize = 500

// ConversationHandlers serves stored conversation history over REST and SSE.
type ConversationHandlers struct {
	feed         *store.Feed
	historyLimit int
	log          *zerolog.Logger
}

// NewConversationHandlers creates handlers backed by feed.
func NewConversationHandlers(feed *store.Feed, historyLimit int, logger *zerolog.Logger) *ConversationHandlers {
	if historyLimit <= 0 {
		historyLimit = core.DefaultHistoryLimit
	}
	return &ConversationHandlers{feed: feed, historyLimit: historyLimit, log: logger}
}

// MessagesResponse is the body of a history page.
type MessagesResponse struct {
	ConversationKey string          `json:"conversationKey"`
	Messages        []proto.Message `json:"messages"`
}

// ListMessages returns messages in conversation order.
// GET /api/conversations/:userA/:userB/messages?after=&limit=
func (h *ConversationHandlers) ListMessages(c *gin.Context) {
	key, ok := h.conversationKey(c)
	if !ok {
		return
	}

	after, err := queryInt(c, "after", 0)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after"})
		return
	}
	limit, err := queryInt(c, "limit", int64(h.historyLimit))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	stored, err := h.feed.ListMessages(c.Request.Context(), key, after, int(limit))
	if err != nil {
		h.log.Error().Err(err).Str("conversation", key).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	messages := make([]proto.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, storedToProto(m))
	}
	c.JSON(http.StatusOK, MessagesResponse{ConversationKey: key, Messages: messages})
}

// Stream replays the conversation and then follows appends and status changes
// as server-sent events until the client goes away.
// GET /api/conversations/:userA/:userB/stream
func (h *ConversationHandlers) Stream(c *gin.Context) {
	key, ok := h.conversationKey(c)
	if !ok {
		return
	}

	ch, err := h.feed.SubscribeOrdered(c.Request.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("conversation", key).Msg("failed to subscribe")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		msg, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("message", storedToProto(msg))
		return true
	})
}

// conversationKey resolves the path pair and, when the request is
// authenticated, requires the caller to be one of the participants.
func (h *ConversationHandlers) conversationKey(c *gin.Context) (string, bool) {
	userA, userB := c.Param("userA"), c.Param("userB")
	conv, err := core.NewConversation(userA, userB)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid participants"})
		return "", false
	}
	if caller := c.GetString(ContextKeyUserID); caller != "" && !conv.Has(caller) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return "", false
	}
	return conv.Key(), true
}

func queryInt(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return v, nil
}
