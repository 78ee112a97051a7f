// Package bid defines the normalized bid value objects shared by the
// auction coordinator, the ad data store and the winning-bid resolver.
package bid

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// BidResponse is a normalized bid from one vendor for one slot. Revenue is
// per-impression (vendors quote CPM; adapters divide by 1000 before
// constructing one of these). At least one of Revenue and EncodedRevenue
// must be set; some vendors only report revenue as an opaque encoded token
// that analytics decodes later.
type BidResponse struct {
	Revenue        *float64 `json:"revenue,omitempty"`
	EncodedRevenue string   `json:"encodedRevenue,omitempty"`
	AdvertiserName string   `json:"advertiserName"`
	AdSize         string   `json:"adSize"` // "WxH"
}

// NewBidResponse validates and constructs a BidResponse.
func NewBidResponse(revenue *float64, encodedRevenue, advertiserName, adSize string) (BidResponse, error) {
	b := BidResponse{
		Revenue:        revenue,
		EncodedRevenue: encodedRevenue,
		AdvertiserName: advertiserName,
		AdSize:         adSize,
	}
	if err := b.Validate(); err != nil {
		return BidResponse{}, err
	}
	return b, nil
}

// Validate checks the value-object invariants.
func (b BidResponse) Validate() error {
	if b.Revenue == nil && b.EncodedRevenue == "" {
		return errors.New("bid response: one of revenue or encodedRevenue is required")
	}
	if b.Revenue != nil && (math.IsNaN(*b.Revenue) || math.IsInf(*b.Revenue, 0)) {
		return errors.New("bid response: revenue must be a finite number")
	}
	if b.AdvertiserName == "" {
		return errors.New("bid response: advertiserName is required")
	}
	if b.AdSize == "" {
		return errors.New("bid response: adSize is required")
	}
	return nil
}

// ParseBidResponse decodes and validates a normalized bid from JSON. Field
// type errors name the offending field, so a vendor sending "0.4" (string)
// instead of 0.4 is diagnosable from the message alone.
func ParseBidResponse(data []byte) (BidResponse, error) {
	var raw struct {
		Revenue        json.RawMessage `json:"revenue"`
		EncodedRevenue string          `json:"encodedRevenue"`
		AdvertiserName string          `json:"advertiserName"`
		AdSize         string          `json:"adSize"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return BidResponse{}, fmt.Errorf("bid response: %w", err)
	}

	var revenue *float64
	if len(raw.Revenue) > 0 && string(raw.Revenue) != "null" {
		var v float64
		if err := json.Unmarshal(raw.Revenue, &v); err != nil {
			return BidResponse{}, fmt.Errorf("bid response: revenue must be a number, got %s", raw.Revenue)
		}
		revenue = &v
	}
	return NewBidResponse(revenue, raw.EncodedRevenue, raw.AdvertiserName, raw.AdSize)
}

// ResponseData is the result of one bidder's FetchBids call: normalized
// bids keyed by slot id plus the vendor's raw payload, passed through
// opaquely for debugging and analytics.
type ResponseData struct {
	BidResponses    map[string][]BidResponse `json:"bidResponses"`
	RawBidResponses json.RawMessage          `json:"rawBidResponses,omitempty"`
}

// EmptyResponseData is what an adapter resolves with when it has nothing
// to bid on.
func EmptyResponseData() *ResponseData {
	return &ResponseData{BidResponses: map[string][]BidResponse{}}
}

// DisplayedAdInfo describes the winning bid actually shown for a slot:
// the top plain-revenue bid merged with the encoded-revenue signal, if one
// was present, plus the ad server's identifiers for the rendered creative.
type DisplayedAdInfo struct {
	AdID                 string   `json:"adId"`
	Revenue              *float64 `json:"revenue,omitempty"`
	EncodedRevenue       string   `json:"encodedRevenue,omitempty"`
	AdServerAdvertiserID string   `json:"adServerAdvertiserId"`
	AdServerAdUnitID     string   `json:"adServerAdUnitId"`
	AdSize               string   `json:"adSize"`
}

// NewDisplayedAdInfo validates and constructs a DisplayedAdInfo.
func NewDisplayedAdInfo(info DisplayedAdInfo) (DisplayedAdInfo, error) {
	if err := info.Validate(); err != nil {
		return DisplayedAdInfo{}, err
	}
	return info, nil
}

// Validate checks the value-object invariants.
func (d DisplayedAdInfo) Validate() error {
	if d.AdID == "" {
		return errors.New("displayed ad: adId is required")
	}
	if d.Revenue == nil && d.EncodedRevenue == "" {
		return errors.New("displayed ad: one of revenue or encodedRevenue is required")
	}
	if d.Revenue != nil && (math.IsNaN(*d.Revenue) || math.IsInf(*d.Revenue, 0)) {
		return errors.New("displayed ad: revenue must be a finite number")
	}
	if d.AdServerAdUnitID == "" {
		return errors.New("displayed ad: adServerAdUnitId is required")
	}
	if d.AdSize == "" {
		return errors.New("displayed ad: adSize is required")
	}
	return nil
}

// Float is a convenience for building *float64 literals.
func Float(v float64) *float64 { return &v }
