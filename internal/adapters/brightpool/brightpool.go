// Package brightpool implements the Brightpool bidder adapter.
// Brightpool quotes plain CPM prices over JSON.
package brightpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adapters"
	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/bid"
	"github.com/thenexusengine/tne_adlib/internal/consent"
)

const (
	bidderName      = "brightpool"
	defaultEndpoint = "https://bid.brightpool.io/v2/auction"
	defaultTimeout  = 700 * time.Millisecond
)

type Adapter struct {
	endpoint string
	http     *http.Client
	consent  consent.Service
	targets  adapters.TargetingSetter

	mu       sync.Mutex
	lastBids map[string][]bid.BidResponse
}

// New creates the adapter. An empty endpoint uses the default.
func New(endpoint string, consentSvc consent.Service, targets adapters.TargetingSetter) *Adapter {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if consentSvc == nil {
		consentSvc = consent.Disabled{}
	}
	return &Adapter{
		endpoint: endpoint,
		http:     &http.Client{},
		consent:  consentSvc,
		targets:  targets,
	}
}

func (a *Adapter) Name() string { return bidderName }

type bidRequest struct {
	Slots     []slotRequest `json:"slots"`
	Domain    string        `json:"domain,omitempty"`
	PageURL   string        `json:"pageUrl,omitempty"`
	Consent   string        `json:"consent,omitempty"`
	TimeoutMS int64         `json:"tmax,omitempty"`
}

type slotRequest struct {
	Code  string   `json:"code"`
	Sizes []string `json:"sizes"`
}

type bidResponse struct {
	Bids []struct {
		Slot       string  `json:"slot"`
		CPM        float64 `json:"cpm"`
		Advertiser string  `json:"advertiser"`
		Size       string  `json:"size"`
	} `json:"bids"`
}

// FetchBids requests bids for the configured ad units. The call is
// bounded by the config's bidder timeout; on timeout it returns empty
// data rather than an error so a slow vendor never stalls its own
// settlement.
func (a *Adapter) FetchBids(ctx context.Context, cfg *auction.Config) (*bid.ResponseData, error) {
	// A new fetch invalidates the previous round's bids; a timed-out or
	// empty round must leave nothing for SetTargeting to push.
	a.mu.Lock()
	a.lastBids = nil
	a.mu.Unlock()

	if len(cfg.AdUnits) == 0 {
		return bid.EmptyResponseData(), nil
	}

	timeout := cfg.BidderTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var consentStr string
	if cfg.Consent.Enabled {
		cs, err := a.consent.ConsentString(ctx)
		if err != nil {
			log.Warn().Err(err).Str("bidder", bidderName).Msg("consent lookup failed, bidding without consent")
		} else {
			consentStr = cs
		}
	}

	req := bidRequest{
		Domain:    cfg.Publisher.Domain,
		PageURL:   cfg.Publisher.PageURL,
		Consent:   consentStr,
		TimeoutMS: timeout.Milliseconds(),
	}
	for _, au := range cfg.AdUnits {
		req.Slots = append(req.Slots, slotRequest{Code: au.Code, Sizes: au.Sizes})
	}

	raw, err := a.post(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("bidder", bidderName).Dur("timeout", timeout).Msg("bidder timed out")
			return bid.EmptyResponseData(), nil
		}
		return nil, err
	}

	var resp bidResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", bidderName, err)
	}

	bids := make(map[string][]bid.BidResponse, len(resp.Bids))
	for _, b := range resp.Bids {
		// Vendors quote CPM; the normalized value is per-impression.
		br, err := bid.NewBidResponse(bid.Float(b.CPM/1000), "", b.Advertiser, b.Size)
		if err != nil {
			log.Warn().Err(err).Str("bidder", bidderName).Str("slot", b.Slot).Msg("dropping malformed bid")
			continue
		}
		bids[b.Slot] = append(bids[b.Slot], br)
	}

	a.mu.Lock()
	a.lastBids = bids
	a.mu.Unlock()

	return &bid.ResponseData{BidResponses: bids, RawBidResponses: raw}, nil
}

// SetTargeting pushes the top bid's price bucket at the ad server. No-op
// when FetchBids never completed or returned nothing.
func (a *Adapter) SetTargeting() {
	if a.targets == nil {
		return
	}
	a.mu.Lock()
	last := a.lastBids
	a.mu.Unlock()
	if len(last) == 0 {
		return
	}

	var topCPM float64
	var topSize string
	for _, bids := range last {
		for _, b := range bids {
			if b.Revenue != nil && *b.Revenue*1000 > topCPM {
				topCPM = *b.Revenue * 1000
				topSize = b.AdSize
			}
		}
	}
	if topSize == "" {
		return
	}
	a.targets.SetTargeting("bp_bidder", []string{bidderName})
	a.targets.SetTargeting("bp_pb", []string{strconv.FormatFloat(topCPM, 'f', 2, 64)})
	a.targets.SetTargeting("bp_size", []string{topSize})
}

func (a *Adapter) post(ctx context.Context, body bidRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", bidderName, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", bidderName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", bidderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return []byte(`{"bids":[]}`), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", bidderName, resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%s: read response: %w", bidderName, err)
	}
	return buf.Bytes(), nil
}

// Info returns the adapter's registration info.
func Info() adapters.BidderInfo {
	return adapters.BidderInfo{
		Enabled: true, Endpoint: defaultEndpoint,
		Maintainer: &adapters.MaintainerInfo{Email: "publisher.support@brightpool.io"},
	}
}
