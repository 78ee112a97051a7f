package auction

import (
	"context"

	"github.com/thenexusengine/tne_adlib/internal/bid"
)

// Bidder is the capability contract every vendor adapter satisfies.
//
// FetchBids requests bids for the configured ad units. Adapters are
// expected to enforce their own bidder-level timeout and to return empty
// data rather than an error when there is simply nothing to bid on; the
// coordinator nonetheless tolerates errors and panics, treating either as
// "settled with no data".
//
// SetTargeting pushes the adapter's key-values at the ad server. It must
// be safe to call when FetchBids never completed or produced nothing.
type Bidder interface {
	Name() string
	FetchBids(ctx context.Context, cfg *Config) (*bid.ResponseData, error)
	SetTargeting()
}

// BidderSource enumerates the bidders active for a round. It may return
// an empty list, e.g. when running in a context with nothing to render;
// the coordinator then settles immediately.
type BidderSource interface {
	ListActiveBidders() []Bidder
}

// AdServer is the coordinator's view of the primary ad server. DefineSlots
// runs during setup, before any bidding; SetTargetingAndRefresh is called
// exactly once per round, inside the terminal action.
type AdServer interface {
	DefineSlots(ctx context.Context, adUnits []AdUnit) error
	EnableServices()
	SetTargetingAndRefresh(ctx context.Context) error
}
