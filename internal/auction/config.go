package auction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AdUnit is a single placement: a DOM element id, the ad server path that
// fills it, and the pixel sizes it accepts.
type AdUnit struct {
	Code  string   `json:"code"`
	Path  string   `json:"path"`
	Sizes []string `json:"sizes"` // "WxH"
}

// ConsentConfig controls the consent lookup adapters perform before
// building vendor requests.
type ConsentConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"-"`
}

// PublisherConfig identifies the page the auction runs for.
type PublisherConfig struct {
	Domain  string `json:"domain"`
	PageURL string `json:"pageUrl"`
}

// Config is the validated configuration for one auction round.
type Config struct {
	DisableAds     bool            `json:"disableAds"`
	AdUnits        []AdUnit        `json:"adUnits"`
	AuctionTimeout time.Duration   `json:"-"`
	BidderTimeout  time.Duration   `json:"-"`
	Consent        ConsentConfig   `json:"consent"`
	Publisher      PublisherConfig `json:"publisher"`
	LogLevel       string          `json:"logLevel,omitempty"`
}

// Validate checks the configuration before a round may run. It is called
// by the coordinator's callers; the coordinator itself assumes a valid
// config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.AuctionTimeout < 0 {
		return fmt.Errorf("auctionTimeout must not be negative")
	}
	if c.BidderTimeout < 0 {
		return fmt.Errorf("bidderTimeout must not be negative")
	}
	if c.Consent.Enabled && c.Consent.Timeout <= 0 {
		return fmt.Errorf("consent.timeout is required when consent is enabled")
	}
	seen := make(map[string]bool, len(c.AdUnits))
	for i, au := range c.AdUnits {
		if au.Code == "" {
			return fmt.Errorf("adUnits[%d]: code is required", i)
		}
		if au.Path == "" {
			return fmt.Errorf("adUnits[%d] (%s): path is required", i, au.Code)
		}
		if len(au.Sizes) == 0 {
			return fmt.Errorf("adUnits[%d] (%s): at least one size is required", i, au.Code)
		}
		for _, size := range au.Sizes {
			if err := validateSize(size); err != nil {
				return fmt.Errorf("adUnits[%d] (%s): %w", i, au.Code, err)
			}
		}
		if seen[au.Code] {
			return fmt.Errorf("adUnits[%d]: duplicate code %q", i, au.Code)
		}
		seen[au.Code] = true
	}
	return nil
}

func validateSize(size string) error {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return fmt.Errorf("size %q must be of the form WxH", size)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return fmt.Errorf("size %q must be of the form WxH", size)
		}
	}
	return nil
}
