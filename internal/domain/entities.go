package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Party is a negotiation role, not a user identity.
type Party int

const (
	PartyUnknown Party = iota
	Requester
	Counterparty
)

func (p Party) String() string {
	switch p {
	case Requester:
		return "requester"
	case Counterparty:
		return "counterparty"
	default:
		return "unknown"
	}
}

func (p Party) Valid() bool {
	return p == Requester || p == Counterparty
}

// Other returns the opposite role.
func (p Party) Other() Party {
	switch p {
	case Requester:
		return Counterparty
	case Counterparty:
		return Requester
	default:
		return PartyUnknown
	}
}

func ParseParty(s string) (Party, error) {
	switch s {
	case "requester":
		return Requester, nil
	case "counterparty":
		return Counterparty, nil
	default:
		return PartyUnknown, fmt.Errorf("%w: %q", ErrUnknownParty, s)
	}
}

func (p Party) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Party) UnmarshalText(text []byte) error {
	parsed, err := ParseParty(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type OfferStatus int

const (
	OfferPending OfferStatus = iota
	OfferAccepted
	OfferSuperseded
)

func (s OfferStatus) String() string {
	switch s {
	case OfferPending:
		return "pending"
	case OfferAccepted:
		return "accepted"
	case OfferSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

func (s OfferStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OfferStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = OfferPending
	case "accepted":
		*s = OfferAccepted
	case "superseded":
		*s = OfferSuperseded
	default:
		return fmt.Errorf("unknown offer status %q", text)
	}
	return nil
}

type ChainStatus int

const (
	ChainNegotiating ChainStatus = iota
	ChainAccepted
)

func (s ChainStatus) String() string {
	switch s {
	case ChainNegotiating:
		return "negotiating"
	case ChainAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

func (s ChainStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ChainStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "negotiating":
		*s = ChainNegotiating
	case "accepted":
		*s = ChainAccepted
	default:
		return fmt.Errorf("unknown chain status %q", text)
	}
	return nil
}

// PriceScale is the number of decimal places a price may carry. Durable
// stores keep exactly this many.
const PriceScale = 4

// CheckPrice rejects prices that are not positive or carry more than
// PriceScale decimal places.
func CheckPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}
	if !price.Round(PriceScale).Equal(price) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidPrice, price, PriceScale)
	}
	return nil
}

// Offer is created once and never mutated except for the single
// Pending -> Accepted|Superseded transition.
type Offer struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	FromParty Party           `json:"from_party"`
	Price     decimal.Decimal `json:"price"`
	Message   *string         `json:"message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Status    OfferStatus     `json:"status"`
}

// BidChain groups every offer negotiating one deal between a requester and
// the listing owner. Offers are kept ordered by (CreatedAt, ID).
type BidChain struct {
	ID             string      `json:"chain_id"`
	ListingID      string      `json:"listing_id"`
	RequesterID    string      `json:"requester_id"`
	CounterpartyID string      `json:"counterparty_id,omitempty"`
	Status         ChainStatus `json:"status"`
	Offers         []Offer     `json:"offers"`
	// Version increments on every persisted write; repositories use it for
	// optimistic concurrency.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy whose offer slice can be modified independently.
func (c *BidChain) Clone() *BidChain {
	if c == nil {
		return nil
	}
	out := *c
	out.Offers = make([]Offer, len(c.Offers))
	copy(out.Offers, c.Offers)
	return &out
}

// OfferIndex returns the position of the offer with the given id, or -1.
func (c *BidChain) OfferIndex(offerID string) int {
	for i := range c.Offers {
		if c.Offers[i].ID == offerID {
			return i
		}
	}
	return -1
}

func (c *BidChain) HasOffer(offerID string) bool {
	return c.OfferIndex(offerID) >= 0
}

// AcceptedOffer returns the accepted offer, if any.
func (c *BidChain) AcceptedOffer() (Offer, bool) {
	for _, o := range c.Offers {
		if o.Status == OfferAccepted {
			return o, true
		}
	}
	return Offer{}, false
}

type ListingStatus int

const (
	ListingPending ListingStatus = iota
	ListingActive
	ListingClosed
	ListingEnded
	ListingExpired
)

func (s ListingStatus) String() string {
	switch s {
	case ListingPending:
		return "pending"
	case ListingActive:
		return "active"
	case ListingClosed:
		return "closed"
	case ListingEnded:
		return "ended"
	case ListingExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further bids can land on the listing.
func (s ListingStatus) Terminal() bool {
	return s == ListingClosed || s == ListingEnded || s == ListingExpired
}

func (s ListingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ListingStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseListingStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseListingStatus(s string) (ListingStatus, error) {
	switch s {
	case "pending":
		return ListingPending, nil
	case "active":
		return ListingActive, nil
	case "closed":
		return ListingClosed, nil
	case "ended":
		return ListingEnded, nil
	case "expired":
		return ListingExpired, nil
	default:
		return ListingPending, fmt.Errorf("unknown listing status %q", s)
	}
}

type ListingKind string

const (
	ListingNegotiated ListingKind = "negotiated"
	ListingAuction    ListingKind = "auction"
)

// Listing is a read-mostly snapshot of the item owned by the external
// listing collaborator.
type Listing struct {
	ID           string          `json:"listing_id"`
	Kind         ListingKind     `json:"kind"`
	OwnerID      string          `json:"owner_id,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	// MinNextBid is optional; when absent or non-positive the smallest unit
	// above CurrentPrice applies.
	MinNextBid decimal.NullDecimal `json:"min_next_bid"`
	// MaxBid is optional; absent means no upper bound.
	MaxBid        decimal.NullDecimal `json:"max_bid"`
	HighestBidder *string             `json:"highest_bidder,omitempty"`
	// ExpiresAt zero means the listing has no expiry.
	ExpiresAt time.Time     `json:"expires_at"`
	Status    ListingStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	out := *l
	if l.HighestBidder != nil {
		bidder := *l.HighestBidder
		out.HighestBidder = &bidder
	}
	return &out
}
