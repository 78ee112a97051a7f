package adapters

import (
	"fmt"
	"sync"

	"github.com/thenexusengine/tne_adlib/internal/auction"
)

// Registry holds all registered bidder adapters. It implements
// auction.BidderSource.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]AdapterWithInfo
	headless bool
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]AdapterWithInfo),
	}
}

// Register adds a bidder adapter to the registry. The adapter's shape is
// validated here, once, rather than on every auction round.
func (r *Registry) Register(bidderCode string, bidder auction.Bidder, info BidderInfo) error {
	if bidderCode == "" {
		return fmt.Errorf("bidder code must not be empty")
	}
	if bidder == nil {
		return fmt.Errorf("adapter %s: bidder is nil", bidderCode)
	}
	if bidder.Name() != bidderCode {
		return fmt.Errorf("adapter %s: name mismatch (adapter reports %q)", bidderCode, bidder.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[bidderCode]; exists {
		return fmt.Errorf("adapter already registered: %s", bidderCode)
	}

	r.adapters[bidderCode] = AdapterWithInfo{
		Bidder: bidder,
		Info:   info,
	}
	return nil
}

// Get retrieves an adapter by bidder code.
func (r *Registry) Get(bidderCode string) (AdapterWithInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[bidderCode]
	return adapter, ok
}

// SetHeadless switches the registry into a non-renderable execution mode
// where ListActiveBidders returns nothing and auctions settle immediately.
func (r *Registry) SetHeadless(headless bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headless = headless
}

// ListActiveBidders returns the enabled adapters, or none in headless
// mode.
func (r *Registry) ListActiveBidders() []auction.Bidder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.headless {
		return nil
	}
	bidders := make([]auction.Bidder, 0, len(r.adapters))
	for _, awi := range r.adapters {
		if awi.Info.Enabled {
			bidders = append(bidders, awi.Bidder)
		}
	}
	return bidders
}

// ListBidders returns all registered bidder codes.
func (r *Registry) ListBidders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bidders := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		bidders = append(bidders, code)
	}
	return bidders
}

var _ auction.BidderSource = (*Registry)(nil)
