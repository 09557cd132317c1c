package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventChainUpdated        EventType = "chain_updated"
	EventListingPriceChanged EventType = "listing_price_changed"
)

type EntityKind string

const (
	EntityChain   EntityKind = "chain"
	EntityListing EntityKind = "listing"
)

// EntityRef names one subscribable entity.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func ChainRef(chainID string) EntityRef {
	return EntityRef{Kind: EntityChain, ID: chainID}
}

func ListingRef(listingID string) EntityRef {
	return EntityRef{Kind: EntityListing, ID: listingID}
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

func (r EntityRef) IsZero() bool {
	return r.ID == ""
}

// PushEvent is the payload carried by the push channel.
//
// ChainUpdated events carry ChainID and the full Chain snapshot.
// ListingPriceChanged events carry ListingID, CurrentPrice and optionally
// HighestBidder. Every other field is unset for the respective type.
type PushEvent struct {
	EventID       string           `json:"event_id"`
	Type          EventType        `json:"type"`
	ChainID       string           `json:"chain_id,omitempty"`
	Chain         *BidChain        `json:"chain,omitempty"`
	ListingID     string           `json:"listing_id,omitempty"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	HighestBidder *string          `json:"highest_bidder,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Refs returns every entity the event is about.
func (e *PushEvent) Refs() []EntityRef {
	var refs []EntityRef
	switch {
	case e.ChainID != "":
		refs = append(refs, ChainRef(e.ChainID))
	case e.Chain != nil && e.Chain.ID != "":
		refs = append(refs, ChainRef(e.Chain.ID))
	}
	switch {
	case e.ListingID != "":
		refs = append(refs, ListingRef(e.ListingID))
	case e.Chain != nil && e.Chain.ListingID != "":
		refs = append(refs, ListingRef(e.Chain.ListingID))
	}
	return refs
}

func NewChainUpdated(eventID string, chain *BidChain, at time.Time) *PushEvent {
	return &PushEvent{
		EventID:   eventID,
		Type:      EventChainUpdated,
		ChainID:   chain.ID,
		Chain:     chain.Clone(),
		ListingID: chain.ListingID,
		Timestamp: at,
	}
}

func NewListingPriceChanged(eventID string, listing *Listing, at time.Time) *PushEvent {
	price := listing.CurrentPrice
	var bidder *string
	if listing.HighestBidder != nil {
		b := *listing.HighestBidder
		bidder = &b
	}
	return &PushEvent{
		EventID:       eventID,
		Type:          EventListingPriceChanged,
		ListingID:     listing.ID,
		CurrentPrice:  &price,
		HighestBidder: bidder,
		Timestamp:     at,
	}
}

// Delivery is one payload received on a subscription. Event is nil when the
// payload could not be decoded; Source still names the subscription it
// arrived on.
type Delivery struct {
	Source  EntityRef
	Event   *PushEvent
	Payload []byte
}

// DecodeDelivery turns a raw push payload received on source into a
// Delivery. Payloads that are not a typed PushEvent yield a nil Event.
func DecodeDelivery(source EntityRef, payload []byte) Delivery {
	d := Delivery{Source: source, Payload: payload}
	var event PushEvent
	if err := json.Unmarshal(payload, &event); err == nil && event.Type != "" {
		d.Event = &event
	}
	return d
}
