// Package cache persists completed auction round summaries in Redis with
// a TTL, so revenue attribution and debugging can look a round up shortly
// after the page session that produced it is gone.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thenexusengine/tne_adlib/internal/bid"
	pkgredis "github.com/thenexusengine/tne_adlib/pkg/redis"
)

const (
	// DefaultTTL for round summaries. Long enough for post-display
	// attribution, short enough that this is not a durable store.
	DefaultTTL = 15 * time.Minute

	// Redis key prefix
	keyPrefix = "adlib_round:"
)

// ErrNotFound is returned when no summary exists for the round.
var ErrNotFound = errors.New("cache: round not found")

// RoundSummary is the post-hoc record of one auction round.
type RoundSummary struct {
	RoundID     string                          `json:"roundId"`
	Trigger     string                          `json:"trigger"`
	DurationMS  int64                           `json:"durationMs"`
	Included    []string                        `json:"included"`
	WinningBids map[string]*bid.DisplayedAdInfo `json:"winningBids,omitempty"`
	CreatedAt   int64                           `json:"created"`
}

// Store provides round-summary storage backed by Redis.
type Store struct {
	redis *pkgredis.Client
	ttl   time.Duration
}

// NewStore creates a new round summary store.
func NewStore(redis *pkgredis.Client) *Store {
	return &Store{redis: redis, ttl: DefaultTTL}
}

// Put stores a round summary under its round id.
func (s *Store) Put(ctx context.Context, summary *RoundSummary) error {
	if summary.RoundID == "" {
		return fmt.Errorf("cache: round id is required")
	}
	if summary.CreatedAt == 0 {
		summary.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("cache: marshal round %s: %w", summary.RoundID, err)
	}
	if err := s.redis.Set(ctx, keyPrefix+summary.RoundID, data, s.ttl); err != nil {
		return fmt.Errorf("cache: store round %s: %w", summary.RoundID, err)
	}
	return nil
}

// Get fetches a round summary.
func (s *Store) Get(ctx context.Context, roundID string) (*RoundSummary, error) {
	data, err := s.redis.Get(ctx, keyPrefix+roundID)
	if errors.Is(err, pkgredis.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: fetch round %s: %w", roundID, err)
	}
	var summary RoundSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("cache: decode round %s: %w", roundID, err)
	}
	return &summary, nil
}
