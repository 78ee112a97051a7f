package auction

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/bid"
)

// DefaultAdvertiserID is the sentinel advertiser recorded when the ad
// server reports no advertiser for a rendered slot, i.e. a house or
// non-programmatic creative filled it.
const DefaultAdvertiserID = "unknown"

// GetWinningBidForAd computes which bid won the rendered slot for
// revenue-attribution purposes. Only bidders whose responses were included
// in the ad request are considered; a bidder that replied after the
// terminal action contributes nothing no matter how high its bid. Returns
// nil with no error when the slot never rendered or attracted no eligible
// bids.
func GetWinningBidForAd(store *adstore.Store, slotID string) (*bid.DisplayedAdInfo, error) {
	ev, ok := store.SlotRendered(slotID)
	if !ok {
		return nil, nil
	}

	advertiserID := DefaultAdvertiserID
	if ev.AdvertiserID != 0 {
		advertiserID = strconv.FormatInt(ev.AdvertiserID, 10)
	}

	// The top plain-revenue bid and the encoded-revenue bid are tracked
	// separately: at most one vendor reports revenue as an opaque token,
	// and both signals must survive the merge for downstream decoding.
	// Bidders are walked in name order so the encoded pick is stable
	// across runs.
	records := store.BidderRecords()
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	var top *bid.BidResponse
	var encoded *bid.BidResponse
	for _, name := range names {
		rec := records[name]
		if !rec.IncludedInAdRequest {
			continue
		}
		for i := range rec.BidResponses[slotID] {
			b := rec.BidResponses[slotID][i]
			if b.Revenue != nil && (top == nil || *b.Revenue > *top.Revenue) {
				top = &b
			}
			if b.EncodedRevenue != "" {
				encoded = &b
			}
		}
	}
	if top == nil && encoded == nil {
		return nil, nil
	}

	base := top
	if base == nil {
		base = encoded
	}
	info := bid.DisplayedAdInfo{
		AdID:                 ev.AdID,
		Revenue:              base.Revenue,
		AdServerAdvertiserID: advertiserID,
		AdServerAdUnitID:     ev.AdUnitID,
		AdSize:               base.AdSize,
	}
	if encoded != nil {
		info.EncodedRevenue = encoded.EncodedRevenue
	}

	// A validation failure here means upstream produced malformed data;
	// that is a bug to surface, not a "no winner" case.
	out, err := bid.NewDisplayedAdInfo(info)
	if err != nil {
		return nil, fmt.Errorf("winning bid for slot %s: %w", slotID, err)
	}
	return &out, nil
}

// GetWinningBids resolves every rendered slot. Slots without an eligible
// winner are omitted.
func GetWinningBids(store *adstore.Store) (map[string]*bid.DisplayedAdInfo, error) {
	out := make(map[string]*bid.DisplayedAdInfo)
	for _, slotID := range store.RenderedSlots() {
		info, err := GetWinningBidForAd(store, slotID)
		if err != nil {
			return nil, err
		}
		if info != nil {
			out[slotID] = info
		}
	}
	return out, nil
}
