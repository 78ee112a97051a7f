// Package adserver implements the primary ad server collaborator: slot
// definition, a targeting key-value surface gated behind EnableServices,
// and the refresh call the coordinator fires once per round.
package adserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/queue"
	"github.com/thenexusengine/tne_adlib/pkg/breaker"
)

const defaultTimeout = 500 * time.Millisecond

// TargetingSetter is the surface bidder adapters push their key-values
// through. Calls made before EnableServices are queued and applied in
// order once services come up.
type TargetingSetter interface {
	SetTargeting(key string, values []string)
}

// Client talks to the ad server over HTTP. It implements auction.AdServer
// and TargetingSetter.
type Client struct {
	baseURL string
	http    *http.Client
	cmds    *queue.Commands
	breaker *breaker.Breaker

	mu        sync.Mutex
	targeting map[string][]string
}

// NewClient creates a client for the given base URL. A zero timeout uses
// the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		cmds:      queue.New(),
		breaker:   breaker.New(breaker.Config{Name: "adserver"}),
		targeting: make(map[string][]string),
	}
}

// DefineSlots registers the round's ad units with the ad server. It also
// starts the round with a clean targeting map; keys accumulated by the
// previous round must not ship in this round's refresh.
func (c *Client) DefineSlots(ctx context.Context, adUnits []auction.AdUnit) error {
	c.mu.Lock()
	c.targeting = make(map[string][]string)
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{"adUnits": adUnits})
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	return c.post(ctx, "/slots", body)
}

// EnableServices opens the command queue; queued targeting calls drain in
// the order they arrived.
func (c *Client) EnableServices() {
	c.cmds.Open()
}

// SetTargeting records a targeting key-value pair for the next refresh.
// Safe to call before EnableServices; the write is deferred.
func (c *Client) SetTargeting(key string, values []string) {
	c.cmds.Push(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.targeting[key] = values
	})
}

// SetTargetingAndRefresh sends the accumulated targeting and asks the ad
// server to request ads. One best-effort attempt; the caller decides what
// to do with the error.
func (c *Client) SetTargetingAndRefresh(ctx context.Context) error {
	c.mu.Lock()
	targeting := make(map[string][]string, len(c.targeting))
	for k, v := range c.targeting {
		targeting[k] = v
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{"targeting": targeting})
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}
	if err := c.post(ctx, "/refresh", body); err != nil {
		return err
	}
	log.Debug().Int("keys", len(targeting)).Msg("ad server refresh sent")
	return nil
}

// post sends the request through the circuit breaker; a burst of ad
// server failures short-circuits further calls until the cooldown passes.
func (c *Client) post(ctx context.Context, path string, body []byte) error {
	return c.breaker.Execute(func() error {
		return c.doPost(ctx, path, body)
	})
}

func (c *Client) doPost(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ad server %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ad server %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

var _ auction.AdServer = (*Client)(nil)
