package memory

import (
	"context"
	"sort"
	"sync"

	"negotiation-engine/internal/domain"
)

// ChainRepository keeps chains in process memory. It backs the memory store
// driver and tests.
type ChainRepository struct {
	mu        sync.RWMutex
	chains    map[string]*domain.BidChain
	byParties map[string]string
	byOffer   map[string]string
}

func NewChainRepository() *ChainRepository {
	return &ChainRepository{
		chains:    make(map[string]*domain.BidChain),
		byParties: make(map[string]string),
		byOffer:   make(map[string]string),
	}
}

func partiesKey(listingID, requesterID string) string {
	return listingID + "\x00" + requesterID
}

func (r *ChainRepository) CreateChain(ctx context.Context, chain *domain.BidChain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := partiesKey(chain.ListingID, chain.RequesterID)
	if _, ok := r.byParties[key]; ok {
		return domain.ErrChainExists
	}
	if _, ok := r.chains[chain.ID]; ok {
		return domain.ErrChainExists
	}
	chain.Version = 1
	r.store(chain)
	r.byParties[key] = chain.ID
	return nil
}

func (r *ChainRepository) GetChain(ctx context.Context, chainID string) (*domain.BidChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[chainID]
	if !ok {
		return nil, domain.ErrChainNotFound
	}
	return chain.Clone(), nil
}

func (r *ChainRepository) FindChainByParties(ctx context.Context, listingID, requesterID string) (*domain.BidChain, error) {
	r.mu.RLock()
	id, ok := r.byParties[partiesKey(listingID, requesterID)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrChainNotFound
	}
	return r.GetChain(ctx, id)
}

func (r *ChainRepository) FindChainByOffer(ctx context.Context, offerID string) (*domain.BidChain, error) {
	r.mu.RLock()
	id, ok := r.byOffer[offerID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return r.GetChain(ctx, id)
}

func (r *ChainRepository) ListChainsByListing(ctx context.Context, listingID string) ([]*domain.BidChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.BidChain
	for _, chain := range r.chains {
		if chain.ListingID == listingID {
			out = append(out, chain.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *ChainRepository) AppendOffer(ctx context.Context, chain *domain.BidChain, offer domain.Offer) error {
	return r.replace(ctx, chain)
}

func (r *ChainRepository) SaveAcceptance(ctx context.Context, chain *domain.BidChain) error {
	return r.replace(ctx, chain)
}

func (r *ChainRepository) replace(ctx context.Context, chain *domain.BidChain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.chains[chain.ID]
	if !ok {
		return domain.ErrChainNotFound
	}
	if stored.Version != chain.Version {
		return domain.ErrConcurrentUpdate
	}
	chain.Version++
	r.store(chain)
	return nil
}

func (r *ChainRepository) store(chain *domain.BidChain) {
	r.chains[chain.ID] = chain.Clone()
	for _, o := range chain.Offers {
		r.byOffer[o.ID] = chain.ID
	}
}
