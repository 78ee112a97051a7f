// Package cipherbid implements the Cipherbid bidder adapter. Cipherbid
// never discloses plain prices; every bid carries an opaque encoded
// revenue token that analytics decodes offline.
package cipherbid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adapters"
	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/bid"
	"github.com/thenexusengine/tne_adlib/internal/consent"
)

const (
	bidderName      = "cipherbid"
	defaultEndpoint = "https://x.cipherbid.net/rtb/bid"
	defaultTimeout  = 700 * time.Millisecond
)

type Adapter struct {
	endpoint string
	http     *http.Client
	consent  consent.Service
	targets  adapters.TargetingSetter

	mu        sync.Mutex
	lastToken string
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

type bidResponse struct {
	Bids []struct {
		Slot       string `json:"slot"`
		Token      string `json:"token"`
		Advertiser string `json:"advertiser"`
		Size       string `json:"size"`
	} `json:"bids"`
}

// FetchBids requests bids for the configured ad units. Cipherbid refuses
// to bid for EU users without a consent string, so the adapter checks
// geo before sending anything.
func (a *Adapter) FetchBids(ctx context.Context, cfg *auction.Config) (*bid.ResponseData, error) {
	// A new fetch invalidates the previous round's token; a timed-out or
	// skipped round must leave nothing for SetTargeting to push.
	a.mu.Lock()
	a.lastToken = ""
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
		inEU, err := a.consent.IsEU(ctx)
		if err != nil {
			log.Warn().Err(err).Str("bidder", bidderName).Msg("geo lookup failed, assuming non-EU")
		}
		if inEU {
			cs, err := a.consent.ConsentString(ctx)
			if err != nil || cs == "" {
				log.Warn().Err(err).Str("bidder", bidderName).Msg("no consent for EU user, skipping bid")
				return bid.EmptyResponseData(), nil
			}
			consentStr = cs
		}
	}

	payload, err := json.Marshal(map[string]any{
		"slots":   slotCodes(cfg.AdUnits),
		"domain":  cfg.Publisher.Domain,
		"page":    cfg.Publisher.PageURL,
		"consent": consentStr,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", bidderName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", bidderName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().Str("bidder", bidderName).Dur("timeout", timeout).Msg("bidder timed out")
			return bid.EmptyResponseData(), nil
		}
		return nil, fmt.Errorf("%s: %w", bidderName, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode == http.StatusNoContent {
		return bid.EmptyResponseData(), nil
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", bidderName, httpResp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResp.Body); err != nil {
		return nil, fmt.Errorf("%s: read response: %w", bidderName, err)
	}
	raw := buf.Bytes()

	var resp bidResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", bidderName, err)
	}

	bids := make(map[string][]bid.BidResponse, len(resp.Bids))
	var token string
	for _, b := range resp.Bids {
		br, err := bid.NewBidResponse(nil, b.Token, b.Advertiser, b.Size)
		if err != nil {
			log.Warn().Err(err).Str("bidder", bidderName).Str("slot", b.Slot).Msg("dropping malformed bid")
			continue
		}
		bids[b.Slot] = append(bids[b.Slot], br)
		token = b.Token
	}

	a.mu.Lock()
	a.lastToken = token
	a.mu.Unlock()

	return &bid.ResponseData{BidResponses: bids, RawBidResponses: raw}, nil
}

// SetTargeting pushes the encoded revenue token at the ad server. No-op
// when there is no token from the last fetch.
func (a *Adapter) SetTargeting() {
	if a.targets == nil {
		return
	}
	a.mu.Lock()
	token := a.lastToken
	a.mu.Unlock()
	if token == "" {
		return
	}
	a.targets.SetTargeting("cb_token", []string{token})
	a.targets.SetTargeting("cb_bidder", []string{bidderName})
}

func slotCodes(adUnits []auction.AdUnit) []string {
	codes := make([]string, 0, len(adUnits))
	for _, au := range adUnits {
		codes = append(codes, au.Code)
	}
	return codes
}

// Info returns the adapter's registration info.
func Info() adapters.BidderInfo {
	return adapters.BidderInfo{
		Enabled: true, Endpoint: defaultEndpoint,
		Maintainer: &adapters.MaintainerInfo{Email: "integrations@cipherbid.net"},
	}
}
