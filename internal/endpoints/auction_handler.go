package endpoints

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/cache"
)

// AuctionRequest is the body of POST /auction. Timeouts are milliseconds.
type AuctionRequest struct {
	RoundID        string                  `json:"roundId,omitempty"`
	DisableAds     bool                    `json:"disableAds,omitempty"`
	AdUnits        []auction.AdUnit        `json:"adUnits"`
	AuctionTimeout int64                   `json:"auctionTimeout"`
	BidderTimeout  int64                   `json:"bidderTimeout"`
	Consent        consentRequest          `json:"consent"`
	Publisher      auction.PublisherConfig `json:"publisher"`
	LogLevel       string                  `json:"logLevel,omitempty"`
}

type consentRequest struct {
	Enabled bool  `json:"enabled"`
	Timeout int64 `json:"timeout,omitempty"`
}

// AuctionResponse is the round's terminal state returned to the caller.
type AuctionResponse struct {
	RoundID    string                  `json:"roundId"`
	Status     auction.Status          `json:"status"`
	Trigger    auction.Trigger         `json:"trigger"`
	DurationMS int64                   `json:"durationMs"`
	Included   []string                `json:"included"`
	Bidders    []bidderOutcomeResponse `json:"bidders,omitempty"`
}

type bidderOutcomeResponse struct {
	Name      string `json:"name"`
	Settled   bool   `json:"settled"`
	Included  bool   `json:"included"`
	Failed    bool   `json:"failed,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// AuctionHandler runs auction rounds over HTTP.
type AuctionHandler struct {
	coordinator *auction.Coordinator
	rounds      *adstore.Manager
	summaries   *cache.Store // optional
}

// NewAuctionHandler creates the handler. summaries may be nil when no
// Redis is configured.
func NewAuctionHandler(c *auction.Coordinator, rounds *adstore.Manager, summaries *cache.Store) *AuctionHandler {
	return &AuctionHandler{coordinator: c, rounds: rounds, summaries: summaries}
}

// HandleAuction handles POST /auction.
func (h *AuctionHandler) HandleAuction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	var req AuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %s", err), http.StatusBadRequest)
		return
	}

	cfg := &auction.Config{
		DisableAds:     req.DisableAds,
		AdUnits:        req.AdUnits,
		AuctionTimeout: time.Duration(req.AuctionTimeout) * time.Millisecond,
		BidderTimeout:  time.Duration(req.BidderTimeout) * time.Millisecond,
		Consent: auction.ConsentConfig{
			Enabled: req.Consent.Enabled,
			Timeout: time.Duration(req.Consent.Timeout) * time.Millisecond,
		},
		Publisher: req.Publisher,
		LogLevel:  req.LogLevel,
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid config: %s", err), http.StatusBadRequest)
		return
	}

	roundID := req.RoundID
	if roundID == "" {
		roundID = newRoundID()
	}
	store := h.rounds.GetOrCreate(roundID)

	result, err := h.coordinator.Run(ctx, cfg, store)
	if err != nil {
		log.Error().Err(err).Str("round_id", roundID).Msg("auction round failed")
		http.Error(w, "auction failed", http.StatusInternalServerError)
		return
	}

	h.persistSummary(r, roundID, result)

	resp := AuctionResponse{
		RoundID:    roundID,
		Status:     result.Status,
		Trigger:    result.Trigger,
		DurationMS: result.Duration.Milliseconds(),
		Included:   result.Included,
	}
	for _, b := range result.Bidders {
		resp.Bidders = append(resp.Bidders, bidderOutcomeResponse{
			Name:      b.Name,
			Settled:   b.Settled,
			Included:  b.Included,
			Failed:    b.Failed,
			LatencyMS: b.Latency.Milliseconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleWinningBids handles GET /rounds/:id/winning-bids.
func (h *AuctionHandler) HandleWinningBids(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roundID := ps.ByName("id")
	store, ok := h.rounds.Get(roundID)
	if !ok {
		http.Error(w, "unknown round", http.StatusNotFound)
		return
	}

	bids, err := auction.GetWinningBids(store)
	if err != nil {
		log.Error().Err(err).Str("round_id", roundID).Msg("winning bid resolution failed")
		http.Error(w, "winning bid resolution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"roundId":     roundID,
		"winningBids": bids,
	})
}

// persistSummary writes the round summary to Redis, best effort.
func (h *AuctionHandler) persistSummary(r *http.Request, roundID string, result *auction.Result) {
	if h.summaries == nil {
		return
	}
	summary := &cache.RoundSummary{
		RoundID:    roundID,
		Trigger:    string(result.Trigger),
		DurationMS: result.Duration.Milliseconds(),
		Included:   result.Included,
	}
	if err := h.summaries.Put(r.Context(), summary); err != nil {
		log.Warn().Err(err).Str("round_id", roundID).Msg("failed to persist round summary")
	}
}

func newRoundID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("round-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
