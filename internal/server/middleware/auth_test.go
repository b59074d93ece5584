package middleware_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/RipMyLoven/ani/internal/server/middleware"
	"github.com/RipMyLoven/ani/internal/session"
	"github.com/RipMyLoven/ani/internal/store"
	"github.com/RipMyLoven/ani/pkg/token"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeValidator struct {
	principal *store.Principal
	sessionID string
}

func (f *fakeValidator) Validate(_ context.Context, username, sessionID string) (*store.Principal, error) {
	if f.principal == nil || f.principal.Username != username {
		return nil, store.ErrNotFound
	}
	if f.sessionID != sessionID {
		return nil, session.ErrSessionMismatch
	}
	return f.principal, nil
}

func newAuthedChain(codec *token.Codec, validator middleware.SessionValidator, next http.Handler) http.Handler {
	return middleware.Chain(next,
		middleware.RequestMetadataMiddleware(),
		middleware.NewAuthMiddleware(newTestLogger(), codec, validator, time.Second),
	)
}

func TestAuthMiddlewareRejectsMissingCookie(t *testing.T) {
	codec := token.NewCodec("secret")
	validator := &fakeValidator{}
	handler := newAuthedChain(codec, validator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a credential")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMalformedCredential(t *testing.T) {
	codec := token.NewCodec("secret")
	validator := &fakeValidator{}
	handler := newAuthedChain(codec, validator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with a malformed credential")
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: "not-a-credential"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsStaleSession(t *testing.T) {
	codec := token.NewCodec("secret")
	validator := &fakeValidator{
		principal: &store.Principal{ID: "user:1", Username: "alice"},
		sessionID: "current-session",
	}
	handler := newAuthedChain(codec, validator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with a stale session")
	}))

	cred, err := codec.Encode("alice", "old-session", time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: cred})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewarePassesValidCredential(t *testing.T) {
	codec := token.NewCodec("secret")
	validator := &fakeValidator{
		principal: &store.Principal{ID: "user:1", Username: "alice"},
		sessionID: "current-session",
	}

	var seen *store.Principal
	handler := newAuthedChain(codec, validator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
		if !ok {
			t.Fatal("request metadata missing")
		}
		seen = reqMeta.Principal
	}))

	cred, err := codec.Encode("alice", "current-session", time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: cred})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.ID != "user:1" {
		t.Errorf("Expected principal user:1 in request metadata, got %+v", seen)
	}
}
