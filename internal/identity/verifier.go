package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates HMAC-signed bearer tokens and resolves the
// token subject through a Directory. The directory lookup is the only
// blocking call on the handshake path and runs under a bounded timeout.
type TokenVerifier struct {
	secret    []byte
	directory Directory
	timeout   time.Duration
	logger    *slog.Logger
}

var _ Verifier = (*TokenVerifier)(nil)

func NewTokenVerifier(logger *slog.Logger, secret string, directory Directory, timeout time.Duration) *TokenVerifier {
	return &TokenVerifier{
		secret:    []byte(secret),
		directory: directory,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "token_verifier")),
	}
}

func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingCredential
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		v.logger.Warn("rejected token", slog.Any("error", err))
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		v.logger.Warn("valid token missing 'sub' claim")
		return nil, ErrInvalidCredential
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	user, err := v.directory.Lookup(lookupCtx, claims.Subject)
	if err != nil {
		// Unknown user, inactive account and lookup failure all
		// collapse into the same rejection as a bad signature.
		v.logger.Warn("directory lookup failed",
			slog.String("userID", claims.Subject),
			slog.Any("error", err),
		)
		return nil, ErrInvalidCredential
	}
	if !user.IsActive {
		v.logger.Warn("rejected inactive account", slog.String("userID", claims.Subject))
		return nil, ErrInvalidCredential
	}

	return user, nil
}
