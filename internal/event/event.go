// Package event defines the closed set of wire events exchanged with
// clients. Every inbound payload is decoded into one of these variants at
// the gateway boundary; handlers never see untyped maps.
package event

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	JoinChat    = "join_chat"
	SendMessage = "send_message"
	TypingStart = "typing_start"
	TypingStop  = "typing_stop"
)

// Outbound event names.
const (
	ConnectionEstablished = "connection_established"
	ConnectionError       = "connection_error"
	Error                 = "error"
	ChatJoined            = "chat_joined"
	NewMessage            = "new_message"
	UserTyping            = "user_typing"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Inbound payloads ---

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID      string `json:"chatId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

// --- Outbound payloads ---

type ConnectionEstablishedPayload struct {
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type ChatJoinedPayload struct {
	ChatID string `json:"chatId"`
}

type NewMessagePayload struct {
	ID             string `json:"id"`
	ChatID         string `json:"chatId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	CreatedAt      string `json:"createdAt"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Marshal frames a payload under the given event name.
func Marshal(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Payload: raw})
}
