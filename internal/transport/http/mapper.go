package http

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

const errCodeUnsupportedVersion = "unsupported_version"

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

// inboundToCommand maps a client envelope to a hub command. Malformed input
// yields a protocol error for the client; the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, badRequest("invalid join payload")
		}
		if join.Protocol != 0 && join.Protocol != proto.ProtocolVersion {
			return nil, &proto.Error{Code: errCodeUnsupportedVersion, Msg: "unsupported protocol version"}
		}
		return &core.Command{
			Kind:     core.CommandJoin,
			UserID:   join.UserID,
			Username: join.Username,
			Token:    join.Token,
		}, nil
	case proto.InboundTypeSendMessage:
		var msg proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, badRequest("invalid send_message payload")
		}
		if msg.Recipient() == "" {
			return nil, &proto.Error{Code: core.ErrCodeValidation, Msg: "recipientId is required", ClientID: msg.ClientID}
		}
		var ts time.Time
		if ms := msg.ClientTime(); ms > 0 {
			ts = time.UnixMilli(ms).UTC()
		}
		return &core.Command{
			Kind:            core.CommandSendMessage,
			SenderID:        msg.SenderID,
			RecipientID:     msg.Recipient(),
			Body:            msg.Text(),
			ClientID:        msg.ClientID,
			ClientTimestamp: ts,
		}, nil
	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil {
			return nil, badRequest("invalid typing payload")
		}
		return &core.Command{
			Kind:        core.CommandTyping,
			SenderID:    typing.UserID,
			RecipientID: typing.Recipient(),
			IsTyping:    typing.IsTyping,
		}, nil
	case proto.InboundTypeOpen:
		var open proto.OpenData
		if err := json.Unmarshal(inbound.Data, &open); err != nil {
			return nil, badRequest("invalid open payload")
		}
		afterID := open.AfterID
		if afterID < 0 {
			afterID = 0
		}
		return &core.Command{Kind: core.CommandOpen, PeerID: open.PeerID, AfterID: afterID}, nil
	case proto.InboundTypeRead:
		var read proto.ReadData
		if err := json.Unmarshal(inbound.Data, &read); err != nil {
			return nil, badRequest("invalid read payload")
		}
		return &core.Command{Kind: core.CommandRead, PeerID: read.PeerID, MessageID: read.MessageID}, nil
	default:
		return nil, badRequest("unknown message type")
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventJoined,
			Data: proto.EventJoinedData{
				UserID:   event.User,
				Username: event.Username,
				Protocol: proto.ProtocolVersion,
			},
		}
	case core.EventReceiveMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReceiveMessage,
			Data:  messageToProto(event.Message),
		}
	case core.EventTypingStatus:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventTypingStatus,
			Data: proto.EventTypingData{
				ConversationKey: event.ConversationKey,
				UserID:          event.User,
				IsTyping:        event.IsTyping,
			},
		}
	case core.EventMessageStatus:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageStatus,
			Data: proto.EventStatusData{
				ID:              event.Message.ID,
				ClientID:        event.ClientID,
				ConversationKey: event.ConversationKey,
				Status:          event.Message.Status.String(),
			},
		}
	case core.EventHistory:
		messages := make([]proto.Message, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messageToProto(msg))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventHistory,
			Data: proto.EventHistoryData{
				ConversationKey: event.ConversationKey,
				PeerID:          event.User,
				Messages:        messages,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message, ClientID: event.ClientID},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func messageToProto(msg core.Message) proto.Message {
	out := proto.Message{
		ID:              msg.ID,
		ClientID:        msg.ClientID,
		ConversationKey: msg.ConversationKey,
		SenderID:        msg.SenderID,
		SenderName:      msg.SenderName,
		RecipientID:     msg.RecipientID,
		Message:         msg.Body,
		Status:          msg.Status.String(),
		CreatedAt:       msg.CreatedAt.UnixMilli(),
	}
	if !msg.ClientTimestamp.IsZero() {
		out.Timestamp = msg.ClientTimestamp.UnixMilli()
	}
	return out
}

func storedToProto(msg *store.Message) proto.Message {
	out := proto.Message{
		ID:              msg.ID,
		ClientID:        msg.ClientID,
		ConversationKey: msg.ConversationKey,
		SenderID:        msg.SenderID,
		SenderName:      msg.SenderName,
		RecipientID:     msg.RecipientID,
		Message:         msg.Body,
		Status:          msg.Status.String(),
		CreatedAt:       msg.CreatedAt.UnixMilli(),
	}
	if !msg.ClientTimestamp.IsZero() {
		out.Timestamp = msg.ClientTimestamp.UnixMilli()
	}
	return out
}
