package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/domain/repositories"
	"negotiation-engine/pkg/logger"
	"negotiation-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// ListingService mirrors listing snapshots reported by the listing
// collaborator and fans price changes out to readers.
type ListingService struct {
	store     repositories.ListingStore
	publisher domain.EventPublisher
	now       func() time.Time
	log       logger.Logger
}

func NewListingService(store repositories.ListingStore, publisher domain.EventPublisher, log logger.Logger) *ListingService {
	return &ListingService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		log:       log,
	}
}

// IngestListing replaces the stored snapshot. Readers are notified when the
// price or highest bidder moved.
func (ls *ListingService) IngestListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error) {
	if listing.ID == "" {
		return nil, fmt.Errorf("%w: listing id is required", domain.ErrListingNotFound)
	}
	if listing.CurrentPrice.IsNegative() {
		return nil, fmt.Errorf("%w: current price %s", domain.ErrInvalidPrice, listing.CurrentPrice)
	}
	if listing.Kind == "" {
		listing.Kind = domain.ListingNegotiated
	}

	prior, err := ls.store.GetListing(ctx, listing.ID)
	if err != nil && !errors.Is(err, domain.ErrListingNotFound) {
		return nil, err
	}

	stored := listing.Clone()
	stored.UpdatedAt = ls.now().UTC()
	if err := ls.store.SaveListing(ctx, stored); err != nil {
		return nil, err
	}

	ls.log.Info("Listing snapshot stored", "listing_id", stored.ID, "status", stored.Status.String(), "current_price", stored.CurrentPrice.String())

	if prior == nil || priceMoved(prior, stored) {
		ls.publish(ctx, stored)
	}
	return stored, nil
}

// RecordPriceChange applies a bid confirmed by the listing collaborator.
// Prices that do not raise the current one are ignored.
func (ls *ListingService) RecordPriceChange(ctx context.Context, listingID string, price decimal.Decimal, highestBidder *string) (*domain.Listing, error) {
	if err := domain.CheckPrice(price); err != nil {
		return nil, err
	}

	listing, changed, err := ls.store.ApplyPriceChange(ctx, listingID, price, highestBidder)
	if err != nil {
		return nil, err
	}
	if !changed {
		ls.log.Debug("Ignoring stale price change", "listing_id", listingID, "price", price.String(), "current_price", listing.CurrentPrice.String())
		return listing, nil
	}

	ls.publish(ctx, listing)
	return listing, nil
}

func (ls *ListingService) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return ls.store.GetListing(ctx, listingID)
}

func (ls *ListingService) publish(ctx context.Context, listing *domain.Listing) {
	if ls.publisher == nil {
		return
	}
	event := domain.NewListingPriceChanged(utils.GenerateID("evt"), listing, ls.now().UTC())
	if err := ls.publisher.Publish(ctx, event); err != nil {
		ls.log.Warn("Failed to publish listing price change", "listing_id", listing.ID, "error", err)
	}
}

func priceMoved(a, b *domain.Listing) bool {
	if !a.CurrentPrice.Equal(b.CurrentPrice) {
		return true
	}
	switch {
	case a.HighestBidder == nil && b.HighestBidder == nil:
		return false
	case a.HighestBidder == nil || b.HighestBidder == nil:
		return true
	default:
		return *a.HighestBidder != *b.HighestBidder
	}
}
