package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"
)

// Refetcher reads authoritative state for re-fetch on ambiguity.
type Refetcher interface {
	domain.ChainFetcher
	domain.ListingProvider
}

// Reconciler feeds deliveries into a Store. Entities whose re-fetch fails
// are queued and retried by Resync.
type Reconciler struct {
	store   *Store
	fetch   Refetcher
	log     logger.Logger
	mu      sync.Mutex
	pending map[domain.EntityRef]struct{}
}

func NewReconciler(store *Store, fetch Refetcher, log logger.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		fetch:   fetch,
		log:     log,
		pending: make(map[domain.EntityRef]struct{}),
	}
}

// Handle applies d and returns the entities whose local state changed.
func (r *Reconciler) Handle(ctx context.Context, d domain.Delivery) ([]domain.EntityRef, error) {
	res, err := r.store.Update(func(v View) Result {
		return ApplyDelivery(v, d)
	})
	if err != nil {
		return nil, err
	}

	changed := res.Changed
	var errs []error
	for _, ref := range res.Refetch {
		r.log.Debug("Re-fetching after ambiguous event", "entity", ref.String())
		refs, err := r.Refresh(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed = append(changed, refs...)
	}
	return changed, errors.Join(errs...)
}

// Refresh replaces ref with authoritative state. Failures queue ref for the
// next Resync.
func (r *Reconciler) Refresh(ctx context.Context, ref domain.EntityRef) ([]domain.EntityRef, error) {
	res, err := r.refresh(ctx, ref)
	if err != nil {
		if !errors.Is(err, ErrStoreClosed) {
			r.enqueue(ref)
			r.log.Warn("Re-fetch failed, queued for resync", "entity", ref.String(), "error", err)
		}
		return nil, err
	}
	r.dequeue(ref)
	return res.Changed, nil
}

func (r *Reconciler) refresh(ctx context.Context, ref domain.EntityRef) (Result, error) {
	switch ref.Kind {
	case domain.EntityChain:
		chain, err := r.fetch.GetChain(ctx, ref.ID)
		if errors.Is(err, domain.ErrChainNotFound) {
			return r.store.Update(func(v View) Result { return Forget(v, ref) })
		}
		if err != nil {
			return Result{}, err
		}
		return r.store.Update(func(v View) Result { return ReplaceChain(v, chain) })

	case domain.EntityListing:
		listing, err := r.fetch.GetListing(ctx, ref.ID)
		if errors.Is(err, domain.ErrListingNotFound) {
			return r.store.Update(func(v View) Result { return Forget(v, ref) })
		}
		if err != nil {
			return Result{}, err
		}
		return r.store.Update(func(v View) Result { return ReplaceListing(v, listing) })
	}
	return Result{}, fmt.Errorf("unknown entity kind %q", ref.Kind)
}

// Resync retries every queued entity once and returns those that changed.
func (r *Reconciler) Resync(ctx context.Context) ([]domain.EntityRef, error) {
	var changed []domain.EntityRef
	var errs []error
	for _, ref := range r.Pending() {
		refs, err := r.Refresh(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed = append(changed, refs...)
	}
	return changed, errors.Join(errs...)
}

// Drop stops tracking ref: it leaves the resync queue and the view.
func (r *Reconciler) Drop(ref domain.EntityRef) ([]domain.EntityRef, error) {
	r.dequeue(ref)
	res, err := r.store.Update(func(v View) Result { return Forget(v, ref) })
	if err != nil {
		return nil, err
	}
	return res.Changed, nil
}

func (r *Reconciler) Pending() []domain.EntityRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]domain.EntityRef, 0, len(r.pending))
	for ref := range r.pending {
		refs = append(refs, ref)
	}
	return refs
}

func (r *Reconciler) enqueue(ref domain.EntityRef) {
	r.mu.Lock()
	r.pending[ref] = struct{}{}
	r.mu.Unlock()
}

func (r *Reconciler) dequeue(ref domain.EntityRef) {
	r.mu.Lock()
	delete(r.pending, ref)
	r.mu.Unlock()
}
