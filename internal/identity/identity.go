package identity

import (
	"context"
	"encoding/json"
	"errors"
)

// Identity is the account snapshot attached to a connection at
// handshake time. It is re-fetched on every connection attempt and
// never mutated afterwards.
type Identity struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	IsActive bool            `json:"isActive"`
}

var (
	// ErrMissingCredential means no token was presented at all.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential covers malformed, expired and
	// signature-invalid tokens as well as unknown or inactive
	// accounts. The cases are deliberately not distinguished so a
	// caller cannot probe for account existence.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnknownUser is returned by a Directory when no account
	// exists for the requested id.
	ErrUnknownUser = errors.New("unknown user")
)

// Verifier maps an opaque bearer credential to an active account.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Directory resolves a user id against the account store.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Identity, error)
}
