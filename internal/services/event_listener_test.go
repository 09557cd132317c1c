package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/infrastructure/lock"
	"negotiation-engine/internal/infrastructure/memory"
	"negotiation-engine/internal/ledger"
	"negotiation-engine/pkg/logger"
)

type recordingNotifier struct {
	mu       sync.Mutex
	chains   []*domain.BidChain
	listings []*domain.Listing
}

func (n *recordingNotifier) NotifyChain(ctx context.Context, chain *domain.BidChain) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chains = append(n.chains, chain)
	return nil
}

func (n *recordingNotifier) NotifyListing(ctx context.Context, listing *domain.Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listings = append(n.listings, listing)
	return nil
}

func (n *recordingNotifier) lastChain() *domain.BidChain {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.chains) == 0 {
		return nil
	}
	return n.chains[len(n.chains)-1]
}

type sessionFetcher struct {
	*memory.ChainRepository
	*memory.ListingStore
}

func TestEventListenerFollowsPushedChanges(t *testing.T) {
	repo := memory.NewChainRepository()
	listings := memory.NewListingStore()
	bus := memory.NewBus()
	svc := NewNegotiationService(repo, listings, bus, lock.NewKeyedMutex(), ledger.New(), time.Second, logger.NewNop())
	ctx := context.Background()

	opening, err := svc.SubmitOffer(ctx, openRef, domain.Requester, d("100"), nil)
	if err != nil {
		t.Fatalf("SubmitOffer() error = %v", err)
	}

	notifier := &recordingNotifier{}
	el := NewEventListener("session-1", bus, sessionFetcher{repo, listings}, notifier, logger.NewNop())
	defer el.Close()

	if err := el.Follow(ctx, domain.ChainRef(opening.ChainID)); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if got := notifier.lastChain(); got == nil || len(got.Offers) != 1 {
		t.Fatalf("initial notification = %v, want chain with 1 offer", got)
	}

	if _, err := svc.Counter(ctx, opening.ID, domain.Counterparty, d("120"), nil); err != nil {
		t.Fatalf("Counter() error = %v", err)
	}
	if got := notifier.lastChain(); got == nil || len(got.Offers) != 2 {
		t.Errorf("pushed notification = %v, want chain with 2 offers", got)
	}
	if held := el.View().Chains[opening.ChainID]; held == nil || len(held.Offers) != 2 {
		t.Errorf("session view = %v, want 2 offers", held)
	}
}

func TestEventListenerCloseUnsubscribes(t *testing.T) {
	bus := memory.NewBus()
	repo := memory.NewChainRepository()
	el := NewEventListener("session-2", bus, sessionFetcher{repo, memory.NewListingStore()}, &recordingNotifier{}, logger.NewNop())
	ctx := context.Background()

	ref := domain.ListingRef("listing-1")
	el.Follow(ctx, ref)
	if bus.Subscribers(ref) != 1 {
		t.Fatalf("Subscribers() = %d, want 1", bus.Subscribers(ref))
	}

	if err := el.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := el.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if bus.Subscribers(ref) != 0 {
		t.Errorf("Subscribers() after Close = %d, want 0", bus.Subscribers(ref))
	}
	if err := el.Follow(ctx, ref); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Follow() after Close error = %v, want ErrListenerClosed", err)
	}
}

func TestEventListenerIgnoresUnheldListingDelta(t *testing.T) {
	bus := memory.NewBus()
	listings := memory.NewListingStore()
	notifier := &recordingNotifier{}
	el := NewEventListener("session-3", bus, sessionFetcher{memory.NewChainRepository(), listings}, notifier, logger.NewNop())
	defer el.Close()
	ctx := context.Background()

	ref := domain.ListingRef("listing-1")
	el.Follow(ctx, ref)

	ls := NewListingService(listings, bus, logger.NewNop())
	ls.IngestListing(ctx, activeListing("50"))

	notifier.mu.Lock()
	got := len(notifier.listings)
	notifier.mu.Unlock()
	if got != 0 {
		t.Errorf("listing notifications = %d, want 0 for a listing the session does not hold", got)
	}

	// Once held, deltas apply.
	el.Refresh(ctx)
	bidder := "buyer-2"
	ls.RecordPriceChange(ctx, "listing-1", d("70"), &bidder)

	held := el.View().Listings["listing-1"]
	if held == nil || !held.CurrentPrice.Equal(d("70")) {
		t.Errorf("held listing = %v, want price 70", held)
	}
}

type downListings struct {
	*memory.ChainRepository
	mu    sync.Mutex
	calls int
}

func (f *downListings) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, domain.ErrUnavailable
}

func TestEventListenerUnfollowDropsEntity(t *testing.T) {
	repo := memory.NewChainRepository()
	bus := memory.NewBus()
	svc := NewNegotiationService(repo, memory.NewListingStore(), bus, lock.NewKeyedMutex(), ledger.New(), time.Second, logger.NewNop())
	ctx := context.Background()

	opening, err := svc.SubmitOffer(ctx, openRef, domain.Requester, d("100"), nil)
	if err != nil {
		t.Fatalf("SubmitOffer() error = %v", err)
	}

	fetch := &downListings{ChainRepository: repo}
	el := NewEventListener("session-4", bus, fetch, &recordingNotifier{}, logger.NewNop())
	defer el.Close()

	chainRef := domain.ChainRef(opening.ChainID)
	listingRef := domain.ListingRef("listing-1")
	if err := el.Follow(ctx, chainRef); err != nil {
		t.Fatalf("Follow(chain) error = %v", err)
	}
	if err := el.Follow(ctx, listingRef); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Follow(listing) error = %v, want ErrUnavailable", err)
	}
	if len(el.reconciler.Pending()) != 1 {
		t.Fatalf("Pending() = %v, want the listing queued", el.reconciler.Pending())
	}

	if err := el.Unfollow(chainRef); err != nil {
		t.Fatalf("Unfollow(chain) error = %v", err)
	}
	if err := el.Unfollow(listingRef); err != nil {
		t.Fatalf("Unfollow(listing) error = %v", err)
	}

	if _, ok := el.View().Chains[opening.ChainID]; ok {
		t.Error("unfollowed chain still in the session view")
	}
	if pending := el.reconciler.Pending(); len(pending) != 0 {
		t.Errorf("Pending() after Unfollow = %v, want empty", pending)
	}
	if err := el.Resync(ctx); err != nil {
		t.Errorf("Resync() error = %v", err)
	}
	if fetch.calls != 1 {
		t.Errorf("GetListing calls = %d, want 1 (no resync after Unfollow)", fetch.calls)
	}
	if bus.Subscribers(chainRef) != 0 || bus.Subscribers(listingRef) != 0 {
		t.Error("subscriptions left open after Unfollow")
	}
}

type countingResyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingResyncer) Resync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func TestCronResyncSchedulerRunOnce(t *testing.T) {
	s := NewCronResyncScheduler("@every 1h", time.Second, logger.NewNop())
	ok := &countingResyncer{}
	failing := &countingResyncer{err: domain.ErrUnavailable}
	s.Register("ok", ok)
	s.Register("failing", failing)
	s.Register("gone", &countingResyncer{})
	s.Unregister("gone")

	s.RunOnce(context.Background())

	if ok.calls != 1 || failing.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", ok.calls, failing.calls)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestCronResyncSchedulerSpecFormats(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "five fields", spec: "*/5 * * * *"},
		{name: "six fields with seconds", spec: "30 */5 * * * *"},
		{name: "descriptor", spec: "@every 30s"},
		{name: "garbage", spec: "every half minute", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCronResyncScheduler(tt.spec, time.Second, logger.NewNop())
			err := s.Start(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err == nil {
				s.Stop()
			}
		})
	}
}
