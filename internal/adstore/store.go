// Package adstore holds the per-round ad data: slot lifecycle events and
// every bidder's responses, tagged with whether each response arrived in
// time to be included in the ad server request.
package adstore

import (
	"encoding/json"
	"sync"

	"github.com/thenexusengine/tne_adlib/internal/bid"
)

// RenderEvent is what the ad server reports when a slot finishes
// rendering. AdvertiserID of 0 means a non-programmatic or house creative.
type RenderEvent struct {
	AdID         string `json:"adId"`
	AdvertiserID int64  `json:"advertiserId"`
	AdUnitID     string `json:"adUnitId"`
	Size         string `json:"size"`
}

// BidderRecord is one bidder's contribution to a round.
// IncludedInAdRequest is false until the terminal action marks the bidder
// as having settled in time; responses that land afterwards keep false for
// the rest of the round.
type BidderRecord struct {
	BidResponses        map[string][]bid.BidResponse `json:"bidResponses"`
	RawBidResponses     json.RawMessage              `json:"rawBidResponses,omitempty"`
	IncludedInAdRequest bool                         `json:"includedInAdRequest"`
}

// Store is the ad data store for a single auction round. All methods are
// safe for concurrent use; bidder goroutines and the event endpoint write
// into it while the coordinator and resolver read.
type Store struct {
	mu            sync.RWMutex
	slotsRendered map[string]RenderEvent
	slotsViewable map[string]bool
	slotsLoaded   map[string]bool
	bidResponses  map[string]*BidderRecord
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.slotsRendered = make(map[string]RenderEvent)
	s.slotsViewable = make(map[string]bool)
	s.slotsLoaded = make(map[string]bool)
	s.bidResponses = make(map[string]*BidderRecord)
}

// Clear discards all round data. Used between rounds and by tests.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// RecordSlotRendered stores the render event for a slot. The first event
// wins; the ad server can re-fire render callbacks on refresh and the
// round's attribution must not move.
func (s *Store) RecordSlotRendered(slotID string, ev RenderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slotsRendered[slotID]; ok {
		return
	}
	s.slotsRendered[slotID] = ev
}

// RecordSlotViewable marks a slot as having met the viewability threshold.
func (s *Store) RecordSlotViewable(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotsViewable[slotID] = true
}

// RecordSlotLoaded marks a slot's creative as loaded.
func (s *Store) RecordSlotLoaded(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotsLoaded[slotID] = true
}

// RecordBidResponses stores a bidder's response data. A later write for
// the same bidder replaces the bid data but never touches the included
// flag: only MarkPresentIncluded sets it, and only once per round.
func (s *Store) RecordBidResponses(bidderName string, data *bid.ResponseData) {
	if data == nil {
		data = bid.EmptyResponseData()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bidResponses[bidderName]
	if !ok {
		rec = &BidderRecord{}
		s.bidResponses[bidderName] = rec
	}
	rec.BidResponses = data.BidResponses
	rec.RawBidResponses = data.RawBidResponses
}

// MarkPresentIncluded flips IncludedInAdRequest to true for every bidder
// currently in the store and returns their names. The coordinator calls
// this exactly once per round, inside the terminal action; because the
// whole sweep happens under one lock, a bidder writing concurrently is
// either in (flag set) or out (flag stays false), never half of each.
func (s *Store) MarkPresentIncluded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	included := make([]string, 0, len(s.bidResponses))
	for name, rec := range s.bidResponses {
		rec.IncludedInAdRequest = true
		included = append(included, name)
	}
	return included
}

// SlotRendered returns the render event for a slot, if one was recorded.
func (s *Store) SlotRendered(slotID string) (RenderEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.slotsRendered[slotID]
	return ev, ok
}

// SlotViewable reports whether the slot hit viewability.
func (s *Store) SlotViewable(slotID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slotsViewable[slotID]
}

// SlotLoaded reports whether the slot's creative loaded.
func (s *Store) SlotLoaded(slotID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slotsLoaded[slotID]
}

// RenderedSlots returns the ids of all slots with a render event.
func (s *Store) RenderedSlots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.slotsRendered))
	for id := range s.slotsRendered {
		ids = append(ids, id)
	}
	return ids
}

// BidderRecord returns a copy of one bidder's record.
func (s *Store) BidderRecord(bidderName string) (BidderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bidResponses[bidderName]
	if !ok {
		return BidderRecord{}, false
	}
	return *rec, true
}

// BidderRecords returns a snapshot of all bidder records.
func (s *Store) BidderRecords() map[string]BidderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BidderRecord, len(s.bidResponses))
	for name, rec := range s.bidResponses {
		out[name] = *rec
	}
	return out
}
