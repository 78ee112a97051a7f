// Package storage provides the Postgres-backed configuration store the
// server loads bidder settings from at startup.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// BidderConfig is one bidder's row in bidder_configs: which vendor
// endpoint to call, its per-call timeout and whether the adapter takes
// part in auctions.
type BidderConfig struct {
	Code        string
	EndpointURL string
	TimeoutMS   int
	Enabled     bool
	UpdatedAt   time.Time
}

// BidderTimeout returns the configured per-call timeout as a Duration.
func (c *BidderConfig) BidderTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// BidderStore reads bidder configuration from Postgres.
type BidderStore struct {
	db *sql.DB
}

// NewBidderStore creates a store over an existing connection pool.
func NewBidderStore(db *sql.DB) *BidderStore {
	return &BidderStore{db: db}
}

const bidderColumns = `bidder_code, endpoint_url, timeout_ms, enabled, updated_at`

// GetByCode fetches one bidder's configuration.
func (s *BidderStore) GetByCode(ctx context.Context, code string) (*BidderConfig, error) {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `SELECT ` + bidderColumns + ` FROM bidder_configs WHERE bidder_code = $1`
	var cfg BidderConfig
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&cfg.Code, &cfg.EndpointURL, &cfg.TimeoutMS, &cfg.Enabled, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bidder %s: %w", code, err)
	}
	return &cfg, nil
}

// ListEnabled returns every bidder that should take part in auctions.
func (s *BidderStore) ListEnabled(ctx context.Context) ([]BidderConfig, error) {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `SELECT ` + bidderColumns + ` FROM bidder_configs WHERE enabled = true ORDER BY bidder_code`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled bidders: %w", err)
	}
	defer rows.Close()

	var out []BidderConfig
	for rows.Next() {
		var cfg BidderConfig
		if err := rows.Scan(&cfg.Code, &cfg.EndpointURL, &cfg.TimeoutMS, &cfg.Enabled, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bidder row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bidder rows: %w", err)
	}
	return out, nil
}

// SetEnabled flips a bidder's participation flag.
func (s *BidderStore) SetEnabled(ctx context.Context, code string, enabled bool) error {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE bidder_configs SET enabled = $1, updated_at = NOW() WHERE bidder_code = $2`,
		enabled, code,
	)
	if err != nil {
		return fmt.Errorf("set bidder %s enabled: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set bidder %s enabled: %w", code, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
