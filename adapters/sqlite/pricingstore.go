package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// PricingStore implements ports.PricingStore using SQLite.
type PricingStore struct {
	db *DB
}

// NewPricingStore creates a new SQLite pricing store.
func NewPricingStore(db *DB) *PricingStore {
	return &PricingStore{db: db}
}

// Get returns pricing for an api, or ErrNotFound.
func (s *PricingStore) Get(ctx context.Context, apiID string) (metering.Pricing, error) {
	var p metering.Pricing
	err := s.db.QueryRowContext(ctx,
		"SELECT base_price, duration_price, data_price FROM api_pricing WHERE api_id = ?",
		apiID,
	).Scan(&p.BasePrice, &p.DurationPrice, &p.DataPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return metering.Pricing{}, ports.ErrNotFound
	}
	if err != nil {
		return metering.Pricing{}, fmt.Errorf("query pricing: %w", err)
	}
	return p, nil
}

// Set stores pricing for an api.
func (s *PricingStore) Set(ctx context.Context, apiID string, p metering.Pricing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_pricing (api_id, base_price, duration_price, data_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (api_id) DO UPDATE SET
			base_price = excluded.base_price,
			duration_price = excluded.duration_price,
			data_price = excluded.data_price,
			updated_at = CURRENT_TIMESTAMP
	`, apiID, p.BasePrice, p.DurationPrice, p.DataPrice)
	if err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.PricingStore = (*PricingStore)(nil)
