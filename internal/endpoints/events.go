package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/metrics"
)

// Slot lifecycle event names accepted by the event endpoint.
const (
	EventRendered = "rendered"
	EventViewable = "viewable"
	EventLoaded   = "loaded"
)

// SlotEventRequest represents the body of a slot event request
type SlotEventRequest struct {
	RoundID      string `json:"roundId"`
	Event        string `json:"event"`
	Slot         string `json:"slot"`
	AdID         string `json:"adId,omitempty"`
	AdvertiserID int64  `json:"advertiserId,omitempty"`
	AdUnitID     string `json:"adUnitId,omitempty"`
	Size         string `json:"size,omitempty"`
}

// SlotEventResponse represents the response to a slot event
type SlotEventResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// EventHandler records slot lifecycle events into the round's data store.
type EventHandler struct {
	rounds  *adstore.Manager
	metrics *metrics.Metrics // optional
}

// NewEventHandler creates a new event handler.
func NewEventHandler(rounds *adstore.Manager, m *metrics.Metrics) *EventHandler {
	return &EventHandler{rounds: rounds, metrics: m}
}

// HandleSlotEvent handles GET and POST /event. GET requests carry the
// event in query parameters and get a tracking pixel back, matching how
// browsers fire them; POST requests carry JSON.
func (h *EventHandler) HandleSlotEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.Method == http.MethodGet {
		h.handleGETEvent(w, r)
		return
	}

	var req SlotEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %s", err), http.StatusBadRequest)
		return
	}

	if err := h.processEvent(&req); err != nil {
		log.Warn().Err(err).Str("event", req.Event).Msg("failed to process slot event")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SlotEventResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleGETEvent handles GET requests with query parameters
func (h *EventHandler) handleGETEvent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	advertiserID, _ := strconv.ParseInt(q.Get("advertiserId"), 10, 64)
	req := &SlotEventRequest{
		RoundID:      q.Get("roundId"),
		Event:        q.Get("event"),
		Slot:         q.Get("slot"),
		AdID:         q.Get("adId"),
		AdvertiserID: advertiserID,
		AdUnitID:     q.Get("adUnitId"),
		Size:         q.Get("size"),
	}

	if err := h.processEvent(req); err != nil {
		log.Warn().Err(err).Str("event", req.Event).Msg("failed to process slot event")
	}
	// Always return the pixel; tracking must not break the page.
	h.writeTrackingPixel(w)
}

func (h *EventHandler) processEvent(req *SlotEventRequest) error {
	if req.RoundID == "" {
		return fmt.Errorf("roundId is required")
	}
	if req.Slot == "" {
		return fmt.Errorf("slot is required")
	}

	store, ok := h.rounds.Get(req.RoundID)
	if !ok {
		return fmt.Errorf("unknown round %q", req.RoundID)
	}

	switch req.Event {
	case EventRendered:
		store.RecordSlotRendered(req.Slot, adstore.RenderEvent{
			AdID:         req.AdID,
			AdvertiserID: req.AdvertiserID,
			AdUnitID:     req.AdUnitID,
			Size:         req.Size,
		})
	case EventViewable:
		store.RecordSlotViewable(req.Slot)
	case EventLoaded:
		store.RecordSlotLoaded(req.Slot)
	default:
		return fmt.Errorf("unknown event %q", req.Event)
	}

	if h.metrics != nil {
		h.metrics.RecordSlotEvent(req.Event)
	}
	return nil
}

// writeTrackingPixel returns a 1x1 transparent GIF
func (h *EventHandler) writeTrackingPixel(w http.ResponseWriter) {
	pixel := []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21,
		0xF9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2C, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3B,
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(pixel)
}
