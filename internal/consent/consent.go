// Package consent looks up whether the user is in the EU and fetches the
// consent string bidder adapters attach to vendor requests. The lookup
// carries its own timeout; adapters degrade to a no-consent request when
// it expires.
package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds consent lookups when the config does not.
const DefaultTimeout = 200 * time.Millisecond

// Service is the consent collaborator consumed by bidder adapters.
type Service interface {
	IsEU(ctx context.Context) (bool, error)
	ConsentString(ctx context.Context) (string, error)
}

// Client fetches consent data from a CMP endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a consent client. A zero timeout uses the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// withTimeout wraps a context with the lookup timeout if it doesn't
// already have a deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// IsEU reports whether the request originates in the EU.
func (c *Client) IsEU(ctx context.Context) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out struct {
		InEU bool `json:"inEU"`
	}
	if err := c.get(ctx, "/geo", &out); err != nil {
		return false, err
	}
	return out.InEU, nil
}

// ConsentString fetches the encoded consent string.
func (c *Client) ConsentString(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out struct {
		ConsentString string `json:"consentString"`
	}
	if err := c.get(ctx, "/consent", &out); err != nil {
		return "", err
	}
	return out.ConsentString, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("consent %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("consent %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("consent %s: decode: %w", path, err)
	}
	return nil
}

// Disabled is the consent service used when consent handling is off:
// never EU, empty consent string.
type Disabled struct{}

func (Disabled) IsEU(context.Context) (bool, error)            { return false, nil }
func (Disabled) ConsentString(context.Context) (string, error) { return "", nil }
