package view

import (
	"negotiation-engine/internal/domain"
)

// Apply merges one pushed event into v.
//
// A full chain snapshot replaces the held chain wholesale and discards its
// optimistic overlay, unless it is older than the held version. A listing
// price delta only touches CurrentPrice and HighestBidder of a held listing;
// deltas for listings the view does not hold are ignored. Events missing the
// data they claim to carry are reported for re-fetch instead of guessed at.
func Apply(v View, ev *domain.PushEvent) Result {
	if ev == nil {
		return Result{View: v}
	}

	switch ev.Type {
	case domain.EventChainUpdated:
		if ev.Chain == nil || ev.Chain.ID == "" || (ev.ChainID != "" && ev.ChainID != ev.Chain.ID) {
			return Result{View: v, Refetch: chainRefs(ev)}
		}
		return ReplaceChain(v, ev.Chain)

	case domain.EventListingPriceChanged:
		if ev.ListingID == "" {
			return Result{View: v, Refetch: ev.Refs()}
		}
		held, ok := v.Listings[ev.ListingID]
		if !ok {
			return Result{View: v}
		}
		if ev.CurrentPrice == nil {
			return Result{View: v, Refetch: []domain.EntityRef{domain.ListingRef(ev.ListingID)}}
		}
		updated := held.Clone()
		updated.CurrentPrice = *ev.CurrentPrice
		updated.HighestBidder = nil
		if ev.HighestBidder != nil {
			b := *ev.HighestBidder
			updated.HighestBidder = &b
		}
		return Result{
			View:    v.withListing(updated),
			Changed: []domain.EntityRef{domain.ListingRef(ev.ListingID)},
		}
	}

	return Result{View: v, Refetch: ev.Refs()}
}

// ApplyDelivery applies a raw delivery. Undecodable payloads, and events
// that name no entity, re-fetch the subscription's entity, or everything the
// view holds when that is unknown too.
func ApplyDelivery(v View, d domain.Delivery) Result {
	if d.Event != nil {
		res := Apply(v, d.Event)
		if len(res.Changed) > 0 || len(res.Refetch) > 0 || len(d.Event.Refs()) > 0 {
			return res
		}
	}
	if !d.Source.IsZero() {
		return Result{View: v, Refetch: []domain.EntityRef{d.Source}}
	}
	return Result{View: v, Refetch: v.Held()}
}

// ReplaceChain installs an authoritative chain snapshot, from a push event or
// a direct response. A snapshot is dropped only when both it and the held
// chain carry a version and its version is lower; unversioned snapshots win.
func ReplaceChain(v View, chain *domain.BidChain) Result {
	if held, ok := v.Chains[chain.ID]; ok && chain.Version != 0 && held.Version != 0 && chain.Version < held.Version {
		return Result{View: v}
	}
	return Result{
		View:    v.withChain(chain),
		Changed: []domain.EntityRef{domain.ChainRef(chain.ID)},
	}
}

// ReplaceListing installs an authoritative listing snapshot.
func ReplaceListing(v View, listing *domain.Listing) Result {
	return Result{
		View:    v.withListing(listing),
		Changed: []domain.EntityRef{domain.ListingRef(listing.ID)},
	}
}

// Forget drops an entity that no longer exists upstream.
func Forget(v View, ref domain.EntityRef) Result {
	if !v.Holds(ref) {
		return Result{View: v}
	}
	return Result{View: v.without(ref), Changed: []domain.EntityRef{ref}}
}

// AddOptimistic records a locally submitted offer until the server confirms
// or replaces the chain.
func AddOptimistic(v View, chainID string, offer domain.Offer) Result {
	out := v.copy()
	pending := append([]domain.Offer(nil), out.Overlay[chainID]...)
	out.Overlay[chainID] = append(pending, offer)
	return Result{View: out, Changed: []domain.EntityRef{domain.ChainRef(chainID)}}
}

func chainRefs(ev *domain.PushEvent) []domain.EntityRef {
	var refs []domain.EntityRef
	for _, r := range ev.Refs() {
		if r.Kind == domain.EntityChain {
			refs = append(refs, r)
		}
	}
	if len(refs) == 0 {
		return ev.Refs()
	}
	return refs
}
