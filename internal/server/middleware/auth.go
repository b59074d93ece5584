package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/RipMyLoven/ani/internal/store"
	"github.com/RipMyLoven/ani/pkg/token"
)

// CookieName is the cookie carrying the session credential. The REST
// surface sets it at login; the websocket handshake reads it back.
const CookieName = "token"

// SessionValidator checks a presented session id against the one on record.
type SessionValidator interface {
	Validate(ctx context.Context, username, sessionID string) (*store.Principal, error)
}

// NewAuthMiddleware authenticates the handshake before the websocket
// upgrade. A connection that cannot present a valid credential never
// reaches the Active state.
func NewAuthMiddleware(logger *slog.Logger, codec *token.Codec, sessions SessionValidator, handshakeTimeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// Metadata middleware did not run; the chain is miswired.
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				logger.Warn("Handshake missing credential", slog.String("ip", reqMeta.IP))
				http.Error(w, "Authentication token required", http.StatusUnauthorized)
				return
			}

			claims, err := codec.Decode(cookie.Value)
			if err != nil {
				logger.Warn("Handshake credential malformed", slog.String("ip", reqMeta.IP))
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
				return
			}

			// The store call is bounded so a stalled backing store cannot
			// wedge the handshake.
			ctx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
			defer cancel()
			principal, err := sessions.Validate(ctx, claims.Username, claims.SessionID)
			if err != nil {
				logger.Warn("Handshake session validation failed",
					slog.String("ip", reqMeta.IP),
					slog.String("username", claims.Username),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.Principal = principal
			next.ServeHTTP(w, r)
		})
	}
}
