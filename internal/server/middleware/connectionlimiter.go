package middleware

import (
	"log/slog"
	"net/http"

	"github.com/RipMyLoven/ani/pkg/config"
)

type PrincipalConnectionCounter func(principalID string) int
type PrincipalConnectionCycler func(principalID string)

// NewConnectionLimiter bounds concurrent sockets per principal. With
// maxPerUser=1 and mode "cycle" it enforces the one-socket-per-session
// model: a new handshake displaces the previous connection.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter PrincipalConnectionCounter,
	cycler PrincipalConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok || reqMeta.Principal == nil {
				logger.Error("Connection limiter ran before auth. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			principalID := reqMeta.Principal.ID
			count := counter(principalID)
			if count < cfg.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Principal connection limit reached",
				slog.String("principalID", principalID), slog.Int("count", count))
			switch cfg.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(principalID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
