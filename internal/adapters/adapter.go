// Package adapters holds the bidder adapter registry and the supporting
// types vendor adapters share.
package adapters

import "github.com/thenexusengine/tne_adlib/internal/auction"

// TargetingSetter is where adapters push their ad server key-values from
// SetTargeting. The ad server client implements it.
type TargetingSetter interface {
	SetTargeting(key string, values []string)
}

// MaintainerInfo identifies who owns a vendor adapter.
type MaintainerInfo struct {
	Email string
}

// BidderInfo describes a registered bidder adapter.
type BidderInfo struct {
	Enabled    bool
	Endpoint   string
	Maintainer *MaintainerInfo
}

// AdapterWithInfo pairs an adapter with its registration info.
type AdapterWithInfo struct {
	Bidder auction.Bidder
	Info   BidderInfo
}
