package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/RipMyLoven/ani/internal/presence"
	"github.com/RipMyLoven/ani/internal/store"
	"github.com/RipMyLoven/ani/pkg/config"
	"github.com/RipMyLoven/ani/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// stubStore satisfies store.Store for app wiring; connection teardown never
// touches the record store.
type stubStore struct{}

func (stubStore) PrincipalByUsername(context.Context, string) (*store.Principal, error) {
	return nil, store.ErrNotFound
}
func (stubStore) PrincipalByID(context.Context, string) (*store.Principal, error) {
	return nil, store.ErrNotFound
}
func (stubStore) SetSessionID(context.Context, string, string) error { return nil }
func (stubStore) ClearSessionID(context.Context, string, string) (bool, error) {
	return false, nil
}
func (stubStore) Conversation(context.Context, string) (*store.Conversation, error) {
	return nil, store.ErrNotFound
}
func (stubStore) ConversationsFor(context.Context, string) ([]*store.Conversation, error) {
	return nil, nil
}
func (stubStore) EnsurePrivateConversation(context.Context, string, string) (*store.Conversation, error) {
	return nil, store.ErrNotFound
}
func (stubStore) TouchConversation(context.Context, string, time.Time) error { return nil }
func (stubStore) CreateMessage(_ context.Context, msg *store.Message) (*store.Message, error) {
	return msg, nil
}
func (stubStore) Close() error { return nil }

func newTestApp() *App {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:          ":0",
			Auth:             config.AuthConfig{TokenSecret: "test"},
			HandshakeTimeout: time.Second,
		},
		Transport: config.TransportConfig{ReadTimeout: time.Second, WriteTimeout: time.Second},
		Store:     config.StoreConfig{QueryTimeout: time.Second},
	}
	return NewApp(newTestLogger(), context.Background(), cfg, stubStore{})
}

func newTestClient(a *App, principalID, username string) *Client {
	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, newTestLogger())
	c := newClient(conn, principalID, username)
	a.registry.Add(c)
	return c
}

func TestRegistryLookup(t *testing.T) {
	a := newTestApp()
	c := newTestClient(a, "user:1", "alice")

	got, ok := a.registry.Client(c.ConnID())
	if !ok {
		t.Fatal("Expected client to be registered")
	}
	if got.PrincipalID() != "user:1" || got.Username() != "alice" {
		t.Errorf("Registered client has wrong identity: %s/%s", got.PrincipalID(), got.Username())
	}
	if a.ConnectionCount() != 1 {
		t.Errorf("Expected connection count 1, got %d", a.ConnectionCount())
	}
	if a.registry.CountFor("user:1") != 1 {
		t.Errorf("Expected 1 connection for user:1")
	}

	if !a.registry.Remove(c.ConnID()) {
		t.Error("Expected Remove to report the client was registered")
	}
	if a.registry.Remove(c.ConnID()) {
		t.Error("Expected second Remove to report nothing left")
	}
	if a.ConnectionCount() != 0 {
		t.Errorf("Expected connection count 0, got %d", a.ConnectionCount())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	a := newTestApp()
	c := newTestClient(a, "user:1", "alice")

	a.rooms.Join(c.ConnID(), "chat:1")
	a.presence.MarkOnline(c.PrincipalID(), c.ConnID())

	a.teardown(c, errors.New("client went away"))

	if a.rooms.Contains("chat:1", c.ConnID()) {
		t.Error("Expected subscriptions purged on teardown")
	}
	if rec := a.presence.Status("user:1"); rec.Status != presence.StatusOffline {
		t.Errorf("Expected principal offline, got %s", rec.Status)
	}
	if _, ok := a.registry.Client(c.ConnID()); ok {
		t.Error("Expected client removed from registry")
	}

	// A duplicate close signal must observe the same end state and not
	// disturb a newer session's presence.
	a.presence.MarkOnline("user:1", newTestClient(a, "user:1", "alice").ConnID())
	a.teardown(c, errors.New("duplicate close"))

	if rec := a.presence.Status("user:1"); rec.Status != presence.StatusOnline {
		t.Error("Duplicate teardown must not flicker presence offline")
	}
}

func TestAppLifecycleFlags(t *testing.T) {
	a := newTestApp()
	if a.IsRunning() {
		t.Error("App must not report running before Run")
	}
	if a.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections, got %d", a.ConnectionCount())
	}
}
