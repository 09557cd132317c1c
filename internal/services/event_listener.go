package services

import (
	"context"
	"errors"
	"sync"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/view"
	"negotiation-engine/pkg/logger"
)

var ErrListenerClosed = errors.New("event listener closed")

// EventListener is one reader session: it owns the session's view store, the
// push subscriptions feeding it, and forwards every reconciled change to the
// session's notifier. Close releases everything.
type EventListener struct {
	id         string
	subscriber domain.EventSubscriber
	store      *view.Store
	reconciler *view.Reconciler
	notifier   domain.ViewNotifier
	log        logger.Logger

	mu     sync.Mutex
	subs   map[domain.EntityRef]domain.Subscription
	closed bool
}

func NewEventListener(
	id string,
	subscriber domain.EventSubscriber,
	fetch view.Refetcher,
	notifier domain.ViewNotifier,
	log logger.Logger,
) *EventListener {
	store := view.NewStore()
	log = log.With("session_id", id)
	return &EventListener{
		id:         id,
		subscriber: subscriber,
		store:      store,
		reconciler: view.NewReconciler(store, fetch, log),
		notifier:   notifier,
		log:        log,
		subs:       make(map[domain.EntityRef]domain.Subscription),
	}
}

func (el *EventListener) ID() string {
	return el.id
}

func (el *EventListener) View() view.View {
	return el.store.Snapshot()
}

// Follow subscribes to ref and loads its current state.
func (el *EventListener) Follow(ctx context.Context, ref domain.EntityRef) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return ErrListenerClosed
	}
	if _, ok := el.subs[ref]; ok {
		el.mu.Unlock()
		return nil
	}
	el.mu.Unlock()

	sub, err := el.subscriber.Subscribe(ctx, ref, el.handleDelivery)
	if err != nil {
		return err
	}

	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		sub.Close()
		return ErrListenerClosed
	}
	if _, ok := el.subs[ref]; ok {
		el.mu.Unlock()
		sub.Close()
		return nil
	}
	el.subs[ref] = sub
	el.mu.Unlock()

	el.log.Info("Following entity", "entity", ref.String())

	changed, err := el.reconciler.Refresh(ctx, ref)
	el.notify(ctx, changed)
	return err
}

// Unfollow closes the subscription for ref and drops ref from the view and
// the resync queue.
func (el *EventListener) Unfollow(ref domain.EntityRef) error {
	el.mu.Lock()
	sub, ok := el.subs[ref]
	delete(el.subs, ref)
	el.mu.Unlock()
	if !ok {
		return nil
	}
	err := sub.Close()
	if _, dropErr := el.reconciler.Drop(ref); dropErr != nil && !errors.Is(dropErr, view.ErrStoreClosed) {
		err = errors.Join(err, dropErr)
	}
	el.log.Info("Unfollowed entity", "entity", ref.String())
	return err
}

// Refresh re-reads every followed entity.
func (el *EventListener) Refresh(ctx context.Context) error {
	var errs []error
	for _, ref := range el.following() {
		changed, err := el.reconciler.Refresh(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		el.notify(ctx, changed)
	}
	return errors.Join(errs...)
}

// Resync retries entities whose last re-fetch failed.
func (el *EventListener) Resync(ctx context.Context) error {
	changed, err := el.reconciler.Resync(ctx)
	el.notify(ctx, changed)
	return err
}

// AddOptimistic shows a locally submitted offer until the server answers.
func (el *EventListener) AddOptimistic(ctx context.Context, offer domain.Offer) error {
	res, err := el.store.Update(func(v view.View) view.Result {
		return view.AddOptimistic(v, offer.ChainID, offer)
	})
	if err != nil {
		return err
	}
	el.notify(ctx, res.Changed)
	return nil
}

func (el *EventListener) handleDelivery(ctx context.Context, d domain.Delivery) error {
	changed, err := el.reconciler.Handle(ctx, d)
	if errors.Is(err, view.ErrStoreClosed) {
		return nil
	}
	el.notify(ctx, changed)
	return err
}

func (el *EventListener) notify(ctx context.Context, refs []domain.EntityRef) {
	if len(refs) == 0 || el.notifier == nil {
		return
	}
	v := el.store.Snapshot()
	for _, ref := range refs {
		var err error
		switch ref.Kind {
		case domain.EntityChain:
			if chain, ok := v.Render(ref.ID); ok {
				err = el.notifier.NotifyChain(ctx, chain)
			}
		case domain.EntityListing:
			if listing, ok := v.Listings[ref.ID]; ok {
				err = el.notifier.NotifyListing(ctx, listing)
			}
		}
		if err != nil {
			el.log.Warn("Failed to notify session", "entity", ref.String(), "error", err)
		}
	}
}

func (el *EventListener) following() []domain.EntityRef {
	el.mu.Lock()
	defer el.mu.Unlock()
	refs := make([]domain.EntityRef, 0, len(el.subs))
	for ref := range el.subs {
		refs = append(refs, ref)
	}
	return refs
}

// Close unsubscribes everything and drops the session's view. It is safe to
// call more than once.
func (el *EventListener) Close() error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return nil
	}
	el.closed = true
	subs := el.subs
	el.subs = make(map[domain.EntityRef]domain.Subscription)
	el.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	el.store.Close()
	el.log.Info("Session closed", "subscriptions", len(subs))
	return errors.Join(errs...)
}
