// Package router dispatches inbound client events to their handlers. The
// payload of each event is decoded into its typed variant before any
// handler runs; handler failures are reported to the originating
// connection only.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/RipMyLoven/ani/internal/event"
	"github.com/RipMyLoven/ani/internal/relay"
	"github.com/RipMyLoven/ani/internal/store"
)

// ConversationStore is the slice of the record store used for join
// authorization.
type ConversationStore interface {
	Conversation(ctx context.Context, chatID string) (*store.Conversation, error)
}

// Subscriptions is the slice of the membership index the router mutates.
type Subscriptions interface {
	Join(connID uuid.UUID, roomID string)
}

type EventRouter struct {
	logger        *slog.Logger
	relay         *relay.Relay
	rooms         Subscriptions
	conversations ConversationStore
	clients       relay.Directory
	queryTimeout  time.Duration
}

func NewEventRouter(logger *slog.Logger, msgRelay *relay.Relay, rooms Subscriptions, conversations ConversationStore, clients relay.Directory, queryTimeout time.Duration) *EventRouter {
	return &EventRouter{
		logger:        logger.With(slog.String("component", "event_router")),
		relay:         msgRelay,
		rooms:         rooms,
		conversations: conversations,
		clients:       clients,
		queryTimeout:  queryTimeout,
	}
}

// HandleMessage is the transport's inbound message callback.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	client, ok := r.clients.Client(connID)
	if !ok {
		r.logger.Warn("Received message for unknown connection", slog.String("connID", connID.String()))
		return
	}

	name := gjson.GetBytes(msg, "event").String()
	if name == "" {
		r.sendError(client, "Malformed event")
		return
	}
	payload := []byte(gjson.GetBytes(msg, "payload").Raw)

	r.logger.Debug("Dispatching event", slog.String("event", name), slog.String("connID", connID.String()))

	switch name {
	case event.JoinChat:
		r.handleJoinChat(ctx, client, payload)
	case event.SendMessage:
		r.handleSendMessage(ctx, client, payload)
	case event.TypingStart:
		r.handleTyping(client, payload, true)
	case event.TypingStop:
		r.handleTyping(client, payload, false)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", name), slog.String("connID", connID.String()))
		r.sendError(client, "Unknown event")
	}
}

func (r *EventRouter) handleJoinChat(ctx context.Context, client relay.Client, payload []byte) {
	var req event.JoinChatPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		r.sendError(client, "Chat ID is required")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	conv, err := r.conversations.Conversation(storeCtx, req.ChatID)
	if err != nil || !conv.Active || !conv.HasParticipant(client.PrincipalID()) {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("Conversation lookup failed", slog.String("chatID", req.ChatID), slog.Any("error", err))
		}
		r.sendError(client, "Chat not found or access denied")
		return
	}

	r.rooms.Join(client.ConnID(), req.ChatID)
	r.send(client, event.ChatJoined, event.ChatJoinedPayload{ChatID: req.ChatID})
}

func (r *EventRouter) handleSendMessage(ctx context.Context, client relay.Client, payload []byte) {
	var req event.SendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" || req.Content == "" {
		r.sendError(client, "Chat ID and content are required")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	_, err := r.relay.Send(storeCtx, client, req.ChatID, req.Content, req.MessageType)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrEmptyContent):
		r.sendError(client, "Chat ID and content are required")
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, store.ErrNotFound):
		r.sendError(client, "Chat not found or access denied")
	default:
		r.logger.Error("Failed to relay message", slog.String("chatID", req.ChatID), slog.Any("error", err))
		r.sendError(client, "Failed to send message")
	}
}

func (r *EventRouter) handleTyping(client relay.Client, payload []byte, isTyping bool) {
	var req event.TypingPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return
	}
	r.relay.Typing(client, req.ChatID, isTyping)
}

func (r *EventRouter) send(client relay.Client, name string, payload any) {
	frame, err := event.Marshal(name, payload)
	if err != nil {
		r.logger.Error("Failed to marshal event", slog.String("event", name), slog.Any("error", err))
		return
	}
	client.Send(frame)
}

// sendError reports a handler failure to the originating connection only.
func (r *EventRouter) sendError(client relay.Client, message string) {
	r.send(client, event.Error, event.ErrorPayload{Message: message})
}
