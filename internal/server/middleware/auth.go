package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pdords-ai/beacon/internal/identity"
)

// NewAuthMiddleware authenticates the WebSocket handshake. The
// credential comes from the `token` query parameter (browser WebSocket
// clients cannot set headers) with an `Authorization: Bearer` header
// fallback. Any failure rejects the handshake before the upgrade, so a
// failed authentication never produces a connect event.
func NewAuthMiddleware(logger *slog.Logger, verifier identity.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went
			// wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			token := extractToken(r)
			user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, identity.ErrMissingCredential) {
					logger.Warn("handshake missing credential", slog.String("ip", reqMeta.IP))
					http.Error(w, "Missing credential", http.StatusUnauthorized)
					return
				}
				logger.Warn("handshake credential rejected",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.User = user
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	return ""
}
