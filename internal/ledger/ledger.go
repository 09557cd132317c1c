package ledger

import (
	"sort"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/utils"
)

// Ledger assigns server-side identity to offers and keeps each chain's
// offers ordered by (CreatedAt, ID).
type Ledger struct {
	now   func() time.Time
	newID func() string
}

func New() *Ledger {
	return NewWithClock(time.Now, utils.NewOfferID)
}

func NewWithClock(now func() time.Time, newID func() string) *Ledger {
	return &Ledger{now: now, newID: newID}
}

// Append stores offer in chain and returns the stored copy. ID and CreatedAt
// are assigned here when the offer carries none; an offer whose ID is already
// in the chain is returned as stored.
func (l *Ledger) Append(chain *domain.BidChain, offer domain.Offer) (domain.Offer, error) {
	if IsChainAccepted(chain) {
		return domain.Offer{}, domain.ErrStaleChain
	}
	if err := domain.CheckPrice(offer.Price); err != nil {
		return domain.Offer{}, err
	}
	if !offer.FromParty.Valid() {
		return domain.Offer{}, domain.ErrUnknownParty
	}

	if offer.ID != "" {
		if i := chain.OfferIndex(offer.ID); i >= 0 {
			return chain.Offers[i], nil
		}
	} else {
		offer.ID = l.newID()
	}

	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = l.stamp(chain)
	}
	offer.CreatedAt = offer.CreatedAt.UTC().Truncate(time.Microsecond)
	offer.ChainID = chain.ID
	offer.Status = domain.OfferPending

	insert(chain, offer)
	return offer, nil
}

// stamp returns the current time, nudged past the newest stored offer so
// that offers minted by this process never share or reverse a timestamp.
func (l *Ledger) stamp(chain *domain.BidChain) time.Time {
	at := l.now().UTC().Truncate(time.Microsecond)
	if n := len(chain.Offers); n > 0 {
		last := chain.Offers[n-1].CreatedAt
		if !at.After(last) {
			at = last.Add(time.Microsecond)
		}
	}
	return at
}

func insert(chain *domain.BidChain, offer domain.Offer) {
	i := sort.Search(len(chain.Offers), func(i int) bool {
		return Less(offer, chain.Offers[i])
	})
	chain.Offers = append(chain.Offers, domain.Offer{})
	copy(chain.Offers[i+1:], chain.Offers[i:])
	chain.Offers[i] = offer
}

// Less orders offers by server timestamp, then id.
func Less(a, b domain.Offer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort restores ledger order on offers loaded from storage.
func Sort(offers []domain.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		return Less(offers[i], offers[j])
	})
}

// LatestOfferBy returns the most recent non-superseded offer from party.
func LatestOfferBy(chain *domain.BidChain, party domain.Party) (domain.Offer, bool) {
	for i := len(chain.Offers) - 1; i >= 0; i-- {
		o := chain.Offers[i]
		if o.FromParty == party && o.Status != domain.OfferSuperseded {
			return o, true
		}
	}
	return domain.Offer{}, false
}

// IsSuperseded reports whether a strictly newer pending offer from the same
// party exists in chain.
func IsSuperseded(offer domain.Offer, chain *domain.BidChain) bool {
	for _, o := range chain.Offers {
		if o.ID == offer.ID || o.FromParty != offer.FromParty {
			continue
		}
		if o.Status == domain.OfferPending && o.CreatedAt.After(offer.CreatedAt) {
			return true
		}
	}
	return false
}

func IsChainAccepted(chain *domain.BidChain) bool {
	return chain.Status == domain.ChainAccepted
}

// HasOfferFrom reports whether party has placed any offer in chain.
func HasOfferFrom(chain *domain.BidChain, party domain.Party) bool {
	for _, o := range chain.Offers {
		if o.FromParty == party {
			return true
		}
	}
	return false
}

// Accept applies the accept transition to chain in place: target becomes
// Accepted, the chain becomes Accepted and every other pending offer is
// Superseded. Callers validate legality first and should pass a clone.
func Accept(chain *domain.BidChain, offerID string, at time.Time) {
	for i := range chain.Offers {
		switch {
		case chain.Offers[i].ID == offerID:
			chain.Offers[i].Status = domain.OfferAccepted
		case chain.Offers[i].Status == domain.OfferPending:
			chain.Offers[i].Status = domain.OfferSuperseded
		}
	}
	chain.Status = domain.ChainAccepted
	chain.UpdatedAt = at
}
