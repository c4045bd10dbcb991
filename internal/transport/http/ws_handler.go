package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/metrics"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

// WSOptions tunes per-connection behavior.
type WSOptions struct {
	SendQueueSize int
	// RateLimitPerMinute caps inbound commands; zero disables the limit.
	RateLimitPerMinute int
	MaxMessageBytes    int
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub     *core.Hub
	auth    auth.Provider
	opts    WSOptions
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, provider auth.Provider, opts WSOptions, logger *zerolog.Logger, m *metrics.Metrics) *WSHandler {
	if provider == nil {
		provider = auth.Trusting{}
	}
	return &WSHandler{hub: hub, auth: provider, opts: opts, log: logger, metrics: m}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		// Leave room for the envelope around the body.
		conn.SetReadLimit(int64(h.opts.MaxMessageBytes) + 4096)
	}

	client := core.NewClient(uuid.NewString(), h.opts.SendQueueSize)
	defer client.Close()
	defer h.hub.Leave(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID()).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := h.newLimiter()

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if limiter != nil && !limiter.Allow() {
			h.reject(client, &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"})
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.reject(client, protoErr)
			continue
		}

		if cmd.Kind == core.CommandJoin {
			if err := h.identify(ctx, cmd); err != nil {
				h.reject(client, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "authentication failed"})
				h.log.Debug().Err(err).Str("conn_id", client.ID()).Msg("join rejected")
				continue
			}
		}

		if err := h.hub.Handle(ctx, client, cmd); err != nil {
			ce := core.ToCoreError(err)
			h.metrics.Rejected(ce.Code)
			h.log.Debug().Err(err).Str("conn_id", client.ID()).Str("code", ce.Code).Msg("command failed")
			h.deliver(client, &core.Event{Kind: core.EventError, Error: ce, ClientID: cmd.ClientID})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				// Closed by the hub: shutdown or a dropped slow consumer.
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID()).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// identify resolves the join identity through the auth provider and rewrites
// cmd with the verified values.
func (h *WSHandler) identify(ctx context.Context, cmd *core.Command) error {
	id, err := h.auth.Identify(ctx, cmd.Token, auth.Identity{UserID: cmd.UserID, DisplayName: cmd.Username})
	if err != nil {
		return err
	}
	cmd.UserID = id.UserID
	cmd.Username = id.DisplayName
	return nil
}

func (h *WSHandler) reject(client *core.Client, protoErr *proto.Error) {
	h.metrics.Rejected(protoErr.Code)
	h.deliver(client, &core.Event{
		Kind:     core.EventError,
		Error:    &core.CoreError{Code: protoErr.Code, Message: protoErr.Msg},
		ClientID: protoErr.ClientID,
	})
}

func (h *WSHandler) deliver(client *core.Client, event *core.Event) {
	if err := client.Deliver(event); err != nil {
		h.log.Debug().Err(err).Str("conn_id", client.ID()).Msg("drop event for client")
	}
}

func (h *WSHandler) newLimiter() *rate.Limiter {
	n := h.opts.RateLimitPerMinute
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}
