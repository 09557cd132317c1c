package domain

import (
	"context"
)

// Event interfaces
type EventPublisher interface {
	Publish(ctx context.Context, event *PushEvent) error
}

type DeliveryHandler func(ctx context.Context, delivery Delivery) error

// Subscription is a live push-channel subscription for one entity. Close is
// idempotent and stops handler invocations before it returns.
type Subscription interface {
	Ref() EntityRef
	Close() error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, ref EntityRef, handler DeliveryHandler) (Subscription, error)
}

// ChainLocker serializes writers of one chain. The returned func releases
// the lock and is safe to call more than once.
type ChainLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// ListingProvider reads listing snapshots owned by the listing collaborator.
type ListingProvider interface {
	GetListing(ctx context.Context, listingID string) (*Listing, error)
}

// ChainFetcher reads authoritative chain state.
type ChainFetcher interface {
	GetChain(ctx context.Context, chainID string) (*BidChain, error)
}

// Notification interfaces
type ViewNotifier interface {
	NotifyChain(ctx context.Context, chain *BidChain) error
	NotifyListing(ctx context.Context, listing *Listing) error
}
