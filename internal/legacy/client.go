// Package legacy talks to the secondary legacy data store that still holds
// duplicate user records. The purge pipeline must clean those up too.
package legacy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"survey-platform/internal/model"
)

type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewClient(baseURL string, apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DeleteUser removes the user from the legacy store.
//
// A 404 means the user is already absent and counts as success, so retried
// purges stay idempotent. 502 and 504 surface as ErrLegacyUnavailable, which
// the runner treats as retryable. Every other non-2xx status is fatal.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	endpoint := c.baseURL + "/api/v1/users/" + url.PathEscape(username)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build legacy delete request: %w", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Token "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are transient from our point of view.
		return fmt.Errorf("%w: %v", model.ErrLegacyUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone.
		return nil
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", model.ErrLegacyUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("legacy store delete user %q: status %d: %s",
			username, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
