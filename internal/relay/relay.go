// Package relay validates, persists and fans out chat messages.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RipMyLoven/ani/internal/event"
	"github.com/RipMyLoven/ani/internal/store"
)

var (
	// ErrEmptyContent rejects messages with no visible content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrUnauthorized rejects sends to conversations the sender is not a
	// participant of.
	ErrUnauthorized = errors.New("not a participant of this conversation")
)

// Client is the view of a live connection the relay needs for fan-out.
type Client interface {
	ConnID() uuid.UUID
	PrincipalID() string
	Username() string
	Send(msg []byte)
}

// Directory resolves connection ids captured from the membership index to
// live clients. Connections that disappeared between snapshot and delivery
// simply resolve to nothing.
type Directory interface {
	Client(connID uuid.UUID) (Client, bool)
}

// MessageStore is the slice of the record store the relay needs.
type MessageStore interface {
	Conversation(ctx context.Context, chatID string) (*store.Conversation, error)
	CreateMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
	TouchConversation(ctx context.Context, chatID string, at time.Time) error
}

// Subscriptions is the slice of the membership index the relay needs.
type Subscriptions interface {
	Subscribers(roomID string) []uuid.UUID
	Contains(roomID string, connID uuid.UUID) bool
}

type Relay struct {
	store   MessageStore
	rooms   Subscriptions
	clients Directory
	logger  *slog.Logger
}

func New(msgStore MessageStore, rooms Subscriptions, clients Directory, logger *slog.Logger) *Relay {
	return &Relay{
		store:   msgStore,
		rooms:   rooms,
		clients: clients,
		logger:  logger.With(slog.String("component", "relay")),
	}
}

// Send validates and persists a message, then delivers it to every
// subscriber of the conversation, the sender included. Nothing is delivered
// unless persistence succeeded.
func (r *Relay) Send(ctx context.Context, sender Client, chatID, content, messageType string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	conv, err := r.store.Conversation(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup failed: %w", err)
	}
	if !conv.Active {
		return nil, store.ErrNotFound
	}
	if !conv.HasParticipant(sender.PrincipalID()) {
		return nil, ErrUnauthorized
	}

	msg, err := r.store.CreateMessage(ctx, &store.Message{
		ChatID:   chatID,
		SenderID: sender.PrincipalID(),
		Content:  content,
		Type:     messageType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if err := r.store.TouchConversation(ctx, chatID, msg.CreatedAt); err != nil {
		// The message is already persisted; a stale last_message_at is not
		// worth failing the send over.
		r.logger.Warn("Failed to update conversation activity",
			slog.String("chatID", chatID), slog.Any("error", err))
	}

	frame, err := event.Marshal(event.NewMessage, event.NewMessagePayload{
		ID:             msg.ID,
		ChatID:         chatID,
		Content:        msg.Content,
		MessageType:    msg.Type,
		SenderID:       sender.PrincipalID(),
		SenderUsername: sender.Username(),
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}

	r.fanOut(chatID, frame, nil)
	return msg, nil
}

// Typing broadcasts a typing indicator to every other subscriber of the
// room. Fire-and-forget: rooms the sender is not subscribed to are ignored
// without surfacing an error.
func (r *Relay) Typing(sender Client, chatID string, isTyping bool) {
	if !r.rooms.Contains(chatID, sender.ConnID()) {
		return
	}

	frame, err := event.Marshal(event.UserTyping, event.UserTypingPayload{
		UserID:   sender.PrincipalID(),
		Username: sender.Username(),
		IsTyping: isTyping,
	})
	if err != nil {
		r.logger.Error("Failed to marshal typing event", slog.Any("error", err))
		return
	}

	exclude := sender.ConnID()
	r.fanOut(chatID, frame, &exclude)
}

// fanOut delivers a frame to the room's subscriber set. The set is a
// snapshot taken under the index lock; delivery happens outside it.
func (r *Relay) fanOut(roomID string, frame []byte, exclude *uuid.UUID) {
	subscribers := r.rooms.Subscribers(roomID)
	delivered := 0
	for _, connID := range subscribers {
		if exclude != nil && connID == *exclude {
			continue
		}
		client, ok := r.clients.Client(connID)
		if !ok {
			continue
		}
		client.Send(frame)
		delivered++
	}
	r.logger.Debug("Fanned out event",
		slog.String("roomID", roomID), slog.Int("delivered", delivered))
}
