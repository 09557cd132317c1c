package repositories

import (
	"context"

	"negotiation-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// ChainRepository is the persistence collaborator for bid chains.
//
// Writes use chain.Version as the expected stored version and increment
// chain.Version on success; a mismatch fails with domain.ErrConcurrentUpdate
// and leaves the stored chain untouched. CreateChain sets Version to 1.
type ChainRepository interface {
	CreateChain(ctx context.Context, chain *domain.BidChain) error
	GetChain(ctx context.Context, chainID string) (*domain.BidChain, error)
	FindChainByParties(ctx context.Context, listingID, requesterID string) (*domain.BidChain, error)
	FindChainByOffer(ctx context.Context, offerID string) (*domain.BidChain, error)
	ListChainsByListing(ctx context.Context, listingID string) ([]*domain.BidChain, error)
	// AppendOffer stores offer, which chain already contains.
	AppendOffer(ctx context.Context, chain *domain.BidChain, offer domain.Offer) error
	// SaveAcceptance stores the accepted chain and every offer status change
	// in one atomic write.
	SaveAcceptance(ctx context.Context, chain *domain.BidChain) error
}

// ListingStore keeps listing snapshots reported by the listing collaborator.
type ListingStore interface {
	domain.ListingProvider
	SaveListing(ctx context.Context, listing *domain.Listing) error
	// ApplyPriceChange raises the current price; it reports false and leaves
	// the snapshot alone when price is not above the stored one. A raise
	// clears MinNextBid, which was quoted against the old price.
	ApplyPriceChange(ctx context.Context, listingID string, price decimal.Decimal, highestBidder *string) (*domain.Listing, bool, error)
}
