package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pdords-ai/beacon/pkg/config"
)

// IPConnectionCounter reports live registry entries for a client IP.
type IPConnectionCounter func(ipAddr string) int

// NewConnectionLimiter rejects handshakes from addresses that already
// hold the configured number of live connections. It runs before auth
// so an abusive address cannot burn verifier lookups. A same-user
// reconnect under the cap still supersedes the old entry as usual.
func NewConnectionLimiter(logger *slog.Logger, counter IPConnectionCounter, cfg config.ConnectionLimitConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < cfg.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("connection limit reached for address",
				slog.String("ip", reqMeta.IP),
				slog.Int("count", count),
			)
			http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
		})
	}
}
