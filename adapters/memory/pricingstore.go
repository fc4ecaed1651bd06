package memory

import (
	"context"
	"sync"

	"github.com/fngate/fngate/domain/metering"
	"github.com/fngate/fngate/ports"
)

// PricingStore is an in-memory implementation of ports.PricingStore.
type PricingStore struct {
	mu      sync.RWMutex
	pricing map[string]metering.Pricing
}

// NewPricingStore creates an empty in-memory pricing store.
func NewPricingStore() *PricingStore {
	return &PricingStore{pricing: map[string]metering.Pricing{}}
}

// Set stores pricing for an api.
func (s *PricingStore) Set(apiID string, p metering.Pricing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[apiID] = p
}

// Get returns pricing for an api, or ErrNotFound.
func (s *PricingStore) Get(ctx context.Context, apiID string) (metering.Pricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pricing[apiID]
	if !ok {
		return metering.Pricing{}, ports.ErrNotFound
	}
	return p, nil
}

// Ensure interface compliance.
var _ ports.PricingStore = (*PricingStore)(nil)
