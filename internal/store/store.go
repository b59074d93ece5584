// Package store defines the typed boundary to the persistent record store.
// Adapters return flat, typed records or ErrNotFound; callers never see raw
// driver result shapes.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Conversation type tags.
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

// Message type tags.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Principal is a user identity. The core reads it during the handshake and
// updates only SessionID; account management lives elsewhere.
type Principal struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	SessionID    string // empty while no session is active
}

// Conversation is a set of two or more principals. Private conversations
// have exactly two participants and an order-independent identity.
type Conversation struct {
	ID            string
	Type          string
	Participants  []string
	Active        bool
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// HasParticipant reports whether the principal belongs to the conversation.
func (c *Conversation) HasParticipant(principalID string) bool {
	for _, p := range c.Participants {
		if p == principalID {
			return true
		}
	}
	return false
}

// Message is append-only from the core's perspective; only the read/edited
// flags change after creation.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	Type      string
	CreatedAt time.Time
	Read      bool
	Edited    bool
}

// Store is the full adapter surface. Consumers depend on the narrow
// interfaces below rather than on this.
type Store interface {
	PrincipalByUsername(ctx context.Context, username string) (*Principal, error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	SetSessionID(ctx context.Context, username, sessionID string) error
	// ClearSessionID clears the stored session id only if it still equals
	// sessionID, so a stale logout cannot clobber a newer session. It
	// reports whether the session was actually cleared.
	ClearSessionID(ctx context.Context, username, sessionID string) (bool, error)

	Conversation(ctx context.Context, chatID string) (*Conversation, error)
	ConversationsFor(ctx context.Context, principalID string) ([]*Conversation, error)
	EnsurePrivateConversation(ctx context.Context, a, b string) (*Conversation, error)
	TouchConversation(ctx context.Context, chatID string, at time.Time) error

	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	Close() error
}
