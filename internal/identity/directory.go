package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HTTPDirectory resolves accounts against the REST API's internal user
// endpoint. The request inherits the caller's context, so the
// verifier's timeout bounds the lookup.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ Directory = (*HTTPDirectory)(nil)

func NewHTTPDirectory(logger *slog.Logger, baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With(slog.String("component", "http_directory")),
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (*Identity, error) {
	endpoint := d.baseURL + "/internal/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building directory request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, ErrUnknownUser
	default:
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var user Identity
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding directory response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("directory response missing user id")
	}
	return &user, nil
}
