package memory

import (
	"context"
	"sync"

	"negotiation-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]*domain.Listing
}

func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]*domain.Listing)}
}

func (s *ListingStore) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	return l.Clone(), nil
}

func (s *ListingStore) SaveListing(ctx context.Context, listing *domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.ID] = listing.Clone()
	return nil
}

func (s *ListingStore) ApplyPriceChange(ctx context.Context, listingID string, price decimal.Decimal, highestBidder *string) (*domain.Listing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, false, domain.ErrListingNotFound
	}
	if !price.GreaterThan(l.CurrentPrice) {
		return l.Clone(), false, nil
	}
	l.CurrentPrice = price
	// A minimum quoted for the old price no longer applies.
	l.MinNextBid = decimal.NullDecimal{}
	l.HighestBidder = nil
	if highestBidder != nil {
		b := *highestBidder
		l.HighestBidder = &b
	}
	return l.Clone(), true, nil
}
