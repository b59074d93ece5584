package router_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/RipMyLoven/ani/internal/event"
	"github.com/RipMyLoven/ani/internal/relay"
	"github.com/RipMyLoven/ani/internal/rooms"
	"github.com/RipMyLoven/ani/internal/router"
	"github.com/RipMyLoven/ani/internal/store"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeClient struct {
	connID      uuid.UUID
	principalID string
	username    string
	frames      [][]byte
}

func (c *fakeClient) ConnID() uuid.UUID   { return c.connID }
func (c *fakeClient) PrincipalID() string { return c.principalID }
func (c *fakeClient) Username() string    { return c.username }
func (c *fakeClient) Send(msg []byte)     { c.frames = append(c.frames, msg) }

func (c *fakeClient) events(t *testing.T) []event.Envelope {
	t.Helper()
	out := make([]event.Envelope, 0, len(c.frames))
	for _, frame := range c.frames {
		var env event.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

type fakeDirectory struct {
	clients map[uuid.UUID]*fakeClient
}

func (d *fakeDirectory) Client(connID uuid.UUID) (relay.Client, bool) {
	c, ok := d.clients[connID]
	return c, ok
}

type fakeStore struct {
	conversations map[string]*store.Conversation
}

func (s *fakeStore) Conversation(_ context.Context, chatID string) (*store.Conversation, error) {
	conv, ok := s.conversations[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *store.Message) (*store.Message, error) {
	created := *msg
	created.ID = "message:" + uuid.NewString()
	if created.Type == "" {
		created.Type = store.MessageTypeText
	}
	created.CreatedAt = time.Now().UTC()
	return &created, nil
}

func (s *fakeStore) TouchConversation(context.Context, string, time.Time) error {
	return nil
}

type fixture struct {
	router *router.EventRouter
	index  *rooms.Index
	alice  *fakeClient
	bob    *fakeClient
	carol  *fakeClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	st := &fakeStore{conversations: map[string]*store.Conversation{
		"chat:1": {
			ID:           "chat:1",
			Type:         store.ChatTypePrivate,
			Participants: []string{"user:1", "user:2"},
			Active:       true,
		},
	}}
	f := &fixture{
		index: rooms.NewIndex(logger),
		alice: &fakeClient{connID: uuid.New(), principalID: "user:1", username: "alice"},
		bob:   &fakeClient{connID: uuid.New(), principalID: "user:2", username: "bob"},
		carol: &fakeClient{connID: uuid.New(), principalID: "user:3", username: "carol"},
	}
	dir := &fakeDirectory{clients: map[uuid.UUID]*fakeClient{
		f.alice.connID: f.alice,
		f.bob.connID:   f.bob,
		f.carol.connID: f.carol,
	}}
	msgRelay := relay.New(st, f.index, dir, logger)
	f.router = router.NewEventRouter(logger, msgRelay, f.index, st, dir, time.Second)
	return f
}

func dispatch(t *testing.T, f *fixture, c *fakeClient, name string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(event.Envelope{Event: name, Payload: raw})
	require.NoError(t, err)
	f.router.HandleMessage(context.Background(), c.connID, frame)
}

func TestJoinChatAuthorized(t *testing.T) {
	f := newFixture(t)

	dispatch(t, f, f.alice, event.JoinChat, event.JoinChatPayload{ChatID: "chat:1"})

	events := f.alice.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.ChatJoined, events[0].Event)
	require.True(t, f.index.Contains("chat:1", f.alice.connID))
}

func TestJoinChatDenied(t *testing.T) {
	f := newFixture(t)

	dispatch(t, f, f.carol, event.JoinChat, event.JoinChatPayload{ChatID: "chat:1"})

	events := f.carol.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.Error, events[0].Event)
	require.False(t, f.index.Contains("chat:1", f.carol.connID))

	dispatch(t, f, f.alice, event.JoinChat, event.JoinChatPayload{ChatID: "chat:missing"})
	events = f.alice.events(t)
	require.Equal(t, event.Error, events[len(events)-1].Event)
}

func TestJoinChatRequiresChatID(t *testing.T) {
	f := newFixture(t)

	dispatch(t, f, f.alice, event.JoinChat, map[string]string{})

	events := f.alice.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.Error, events[0].Event)

	var payload event.ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, "Chat ID is required", payload.Message)
}

func TestSendMessageReachesRoomMembers(t *testing.T) {
	f := newFixture(t)
	f.index.Join(f.alice.connID, "chat:1")
	f.index.Join(f.bob.connID, "chat:1")

	dispatch(t, f, f.alice, event.SendMessage, event.SendMessagePayload{ChatID: "chat:1", Content: "hi"})

	bobEvents := f.bob.events(t)
	require.Len(t, bobEvents, 1)
	require.Equal(t, event.NewMessage, bobEvents[0].Event)

	var payload event.NewMessagePayload
	require.NoError(t, json.Unmarshal(bobEvents[0].Payload, &payload))
	require.Equal(t, "hi", payload.Content)
	require.Equal(t, "user:1", payload.SenderID)

	// The sender receives the same fan-out event, no special ack shape.
	aliceEvents := f.alice.events(t)
	require.Len(t, aliceEvents, 1)
	require.Equal(t, event.NewMessage, aliceEvents[0].Event)
}

func TestSendMessageFromNonParticipant(t *testing.T) {
	f := newFixture(t)
	f.index.Join(f.alice.connID, "chat:1")
	f.index.Join(f.bob.connID, "chat:1")

	dispatch(t, f, f.carol, event.SendMessage, event.SendMessagePayload{ChatID: "chat:1", Content: "x"})

	events := f.carol.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.Error, events[0].Event)
	require.Empty(t, f.alice.frames, "room members must not be notified")
	require.Empty(t, f.bob.frames)
}

func TestTypingRoutedWithDirection(t *testing.T) {
	f := newFixture(t)
	f.index.Join(f.alice.connID, "chat:1")
	f.index.Join(f.bob.connID, "chat:1")

	dispatch(t, f, f.bob, event.TypingStart, event.TypingPayload{ChatID: "chat:1"})
	dispatch(t, f, f.bob, event.TypingStop, event.TypingPayload{ChatID: "chat:1"})

	events := f.alice.events(t)
	require.Len(t, events, 2)

	var start, stop event.UserTypingPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &start))
	require.NoError(t, json.Unmarshal(events[1].Payload, &stop))
	require.True(t, start.IsTyping)
	require.False(t, stop.IsTyping)
	require.Empty(t, f.bob.frames, "typing is never echoed to the sender")
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	f := newFixture(t)

	dispatch(t, f, f.alice, "no_such_event", map[string]string{})
	f.router.HandleMessage(context.Background(), f.alice.connID, []byte("{not json"))

	events := f.alice.events(t)
	require.Len(t, events, 2)
	for _, env := range events {
		require.Equal(t, event.Error, env.Event)
	}

	// Frames from connections we do not know are dropped, not answered.
	f.router.HandleMessage(context.Background(), uuid.New(), []byte(`{"event":"join_chat","payload":{}}`))
}
