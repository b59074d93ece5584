// Package httpapi is the small REST surface that shares the session
// credential with the socket handshake: login mints the cookie the
// websocket middleware later validates, logout invalidates it and drops
// any live sockets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/RipMyLoven/ani/internal/presence"
	"github.com/RipMyLoven/ani/internal/session"
	"github.com/RipMyLoven/ani/internal/store"
	"github.com/RipMyLoven/ani/pkg/config"
	"github.com/RipMyLoven/ani/pkg/token"
)

// CookieName matches the websocket auth middleware.
const CookieName = "token"

// Store is the slice of the record store the REST surface needs.
type Store interface {
	PrincipalByUsername(ctx context.Context, username string) (*store.Principal, error)
	PrincipalByID(ctx context.Context, id string) (*store.Principal, error)
	EnsurePrivateConversation(ctx context.Context, a, b string) (*store.Conversation, error)
}

// Disconnector force-closes a principal's live sockets after logout.
type Disconnector func(principalID string)

type Handler struct {
	logger     *slog.Logger
	store      Store
	sessions   *session.Store
	codec      *token.Codec
	presence   *presence.Tracker
	cfg        *config.Config
	disconnect Disconnector
}

func NewHandler(logger *slog.Logger, st Store, sessions *session.Store, codec *token.Codec, tracker *presence.Tracker, cfg *config.Config, disconnect Disconnector) *Handler {
	return &Handler{
		logger:     logger.With(slog.String("component", "httpapi")),
		store:      st,
		sessions:   sessions,
		codec:      codec,
		presence:   tracker,
		cfg:        cfg,
		disconnect: disconnect,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("GET /api/users/status", h.handleStatus)
	mux.HandleFunc("POST /api/chats", h.handleCreateChat)
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func viewOf(p *store.Principal) userView {
	return userView{ID: p.ID, Username: p.Username, Email: p.Email}
}

// --- Auth ---

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	principal, err := h.sessions.Resolve(ctx, strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("Login principal lookup failed", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, "Login failed")
			return
		}
		h.writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.Password)) != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	sessionID, err := h.sessions.Issue(ctx, principal.Username)
	if err != nil {
		h.logger.Error("Failed to issue session", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	credential, err := h.codec.Encode(principal.Username, sessionID, time.Now())
	if err != nil {
		h.logger.Error("Failed to encode credential", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.setCookie(w, credential, h.cfg.Server.Auth.CookieMaxAge)
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": viewOf(principal)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// The cookie is cleared no matter what; session invalidation happens
	// only for a well-formed credential.
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if claims, err := h.codec.Decode(cookie.Value); err == nil {
			ctx, cancel := h.storeCtx(r)
			defer cancel()
			cleared, err := h.sessions.Clear(ctx, claims.Username, claims.SessionID)
			if err != nil {
				h.logger.Error("Failed to clear session", slog.Any("error", err))
			}
			// Logout invalidates live sockets too, not just future requests.
			// A stale credential clears nothing and must not kick the
			// sockets of the session that replaced it.
			if cleared {
				if principal, err := h.sessions.Resolve(ctx, claims.Username); err == nil {
					h.disconnect(principal.ID)
				}
			}
		}
	}

	h.setCookie(w, "", -1)
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(principal)})
}

// --- Presence ---

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	principalID := r.URL.Query().Get("id")
	if principalID == "" {
		h.writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	rec := h.presence.Status(principalID)
	resp := map[string]any{
		"userId": principalID,
		"status": rec.Status,
	}
	if !rec.LastSeen.IsZero() {
		resp["lastSeen"] = rec.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// --- Chats ---

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == "" {
		h.writeError(w, http.StatusBadRequest, "Participant ID is required")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	participant, err := h.store.PrincipalByID(ctx, req.ParticipantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Participant not found")
			return
		}
		h.logger.Error("Participant lookup failed", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	conv, err := h.store.EnsurePrivateConversation(ctx, principal.ID, participant.ID)
	if err != nil {
		h.logger.Error("Failed to create conversation", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"chat": map[string]any{
			"id":           conv.ID,
			"chat_type":    conv.Type,
			"participants": conv.Participants,
			"is_active":    conv.Active,
		},
	})
}

// --- Helpers ---

// authenticate validates the request's credential cookie exactly the way
// the socket handshake does.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*store.Principal, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		h.writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	claims, err := h.codec.Decode(cookie.Value)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid token format")
		return nil, false
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	principal, err := h.sessions.Validate(ctx, claims.Username, claims.SessionID)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "User not found or session expired")
		return nil, false
	}
	return principal, true
}

func (h *Handler) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.Store.QueryTimeout)
}

func (h *Handler) setCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge < 0 {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"message": message})
}
