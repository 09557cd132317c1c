package view

import (
	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/ledger"
)

// View is a reader's local picture of the chains and listings it follows.
// Values are never mutated in place; every change produces a new View that
// shares untouched entries with the old one.
type View struct {
	Chains   map[string]*domain.BidChain
	Listings map[string]*domain.Listing
	// Overlay holds optimistic offers per chain that the server has not
	// confirmed yet.
	Overlay map[string][]domain.Offer
}

func Empty() View {
	return View{
		Chains:   map[string]*domain.BidChain{},
		Listings: map[string]*domain.Listing{},
		Overlay:  map[string][]domain.Offer{},
	}
}

// Result is the outcome of applying one event. Refetch names entities the
// event was about but could not be applied for.
type Result struct {
	View    View
	Changed []domain.EntityRef
	Refetch []domain.EntityRef
}

// Held returns every entity the view holds.
func (v View) Held() []domain.EntityRef {
	refs := make([]domain.EntityRef, 0, len(v.Chains)+len(v.Listings))
	for id := range v.Chains {
		refs = append(refs, domain.ChainRef(id))
	}
	for id := range v.Listings {
		refs = append(refs, domain.ListingRef(id))
	}
	return refs
}

func (v View) Holds(ref domain.EntityRef) bool {
	switch ref.Kind {
	case domain.EntityChain:
		_, ok := v.Chains[ref.ID]
		return ok
	case domain.EntityListing:
		_, ok := v.Listings[ref.ID]
		return ok
	}
	return false
}

// Render returns the chain with optimistic offers merged in ledger order.
func (v View) Render(chainID string) (*domain.BidChain, bool) {
	chain, ok := v.Chains[chainID]
	pending := v.Overlay[chainID]
	if !ok && len(pending) == 0 {
		return nil, false
	}
	if !ok {
		chain = &domain.BidChain{ID: chainID}
	}
	out := chain.Clone()
	for _, o := range pending {
		if !out.HasOffer(o.ID) {
			out.Offers = append(out.Offers, o)
		}
	}
	ledger.Sort(out.Offers)
	return out, true
}

func (v View) withChain(chain *domain.BidChain) View {
	out := v.copy()
	out.Chains[chain.ID] = chain.Clone()
	delete(out.Overlay, chain.ID)
	return out
}

func (v View) withListing(listing *domain.Listing) View {
	out := v.copy()
	out.Listings[listing.ID] = listing.Clone()
	return out
}

func (v View) without(ref domain.EntityRef) View {
	out := v.copy()
	switch ref.Kind {
	case domain.EntityChain:
		delete(out.Chains, ref.ID)
		delete(out.Overlay, ref.ID)
	case domain.EntityListing:
		delete(out.Listings, ref.ID)
	}
	return out
}

func (v View) copy() View {
	out := View{
		Chains:   make(map[string]*domain.BidChain, len(v.Chains)),
		Listings: make(map[string]*domain.Listing, len(v.Listings)),
		Overlay:  make(map[string][]domain.Offer, len(v.Overlay)),
	}
	for k, c := range v.Chains {
		out.Chains[k] = c
	}
	for k, l := range v.Listings {
		out.Listings[k] = l
	}
	for k, o := range v.Overlay {
		out.Overlay[k] = o
	}
	return out
}
