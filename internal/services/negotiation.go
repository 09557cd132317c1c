package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/domain/repositories"
	"negotiation-engine/internal/ledger"
	"negotiation-engine/pkg/logger"
	"negotiation-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// maxWriteAttempts bounds re-validation after a version conflict, which only
// happens when a writer bypassed the chain lock.
const maxWriteAttempts = 3

type Action int

const (
	ActionUnknown Action = iota
	ActionAccept
	ActionCounter
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionCounter:
		return "counter"
	default:
		return "unknown"
	}
}

func ParseAction(s string) (Action, error) {
	switch s {
	case "accept":
		return ActionAccept, nil
	case "counter":
		return ActionCounter, nil
	default:
		return ActionUnknown, fmt.Errorf("%w: %q", domain.ErrInvalidAction, s)
	}
}

// LotRequester is the requester key of the single chain every bidder on an
// auction lot shares.
const LotRequester = "lot"

// ChainRef addresses a chain either by id or by the (listing, requester)
// pair that owns it.
type ChainRef struct {
	ChainID     string `json:"chain_id,omitempty"`
	ListingID   string `json:"listing_id,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
}

type NegotiationService struct {
	chains         repositories.ChainRepository
	listings       domain.ListingProvider
	publisher      domain.EventPublisher
	locker         domain.ChainLocker
	ledger         *ledger.Ledger
	now            func() time.Time
	resolveTimeout time.Duration
	log            logger.Logger
}

func NewNegotiationService(
	chains repositories.ChainRepository,
	listings domain.ListingProvider,
	publisher domain.EventPublisher,
	locker domain.ChainLocker,
	ledger *ledger.Ledger,
	resolveTimeout time.Duration,
	log logger.Logger,
) *NegotiationService {
	if resolveTimeout <= 0 {
		resolveTimeout = 5 * time.Second
	}
	return &NegotiationService{
		chains:         chains,
		listings:       listings,
		publisher:      publisher,
		locker:         locker,
		ledger:         ledger,
		now:            time.Now,
		resolveTimeout: resolveTimeout,
		log:            log,
	}
}

// SetClock overrides the wall clock used for timestamps and expiry checks.
func (s *NegotiationService) SetClock(now func() time.Time) {
	s.now = now
}

// SubmitOffer places a new offer on the referenced chain. A Requester's first
// offer on a listing opens the chain.
func (s *NegotiationService) SubmitOffer(ctx context.Context, ref ChainRef, from domain.Party, price decimal.Decimal, message *string) (domain.Offer, error) {
	if !from.Valid() {
		return domain.Offer{}, domain.ErrUnknownParty
	}
	if err := domain.CheckPrice(price); err != nil {
		return domain.Offer{}, err
	}

	// Pre-flight before resolving so a doomed opening bid never creates a chain.
	if ref.ChainID == "" && ref.ListingID != "" {
		if err := s.preflight(ctx, ref.ListingID, price); err != nil {
			return domain.Offer{}, err
		}
	}

	chain, err := s.resolveChain(ctx, ref, from)
	if err != nil {
		return domain.Offer{}, err
	}

	if ref.ChainID != "" {
		if err := s.preflight(ctx, chain.ListingID, price); err != nil {
			return domain.Offer{}, err
		}
	}

	s.log.Info("Submitting offer", "chain_id", chain.ID, "from", from.String(), "price", price.String())

	var stored domain.Offer
	_, err = s.write(ctx, chain.ID,
		func(c *domain.BidChain) (bool, error) {
			o, err := s.ledger.Append(c, domain.Offer{FromParty: from, Price: price, Message: message})
			if err != nil {
				return false, err
			}
			stored = o
			c.UpdatedAt = s.now().UTC()
			return true, nil
		},
		func(ctx context.Context, c *domain.BidChain) error {
			return s.chains.AppendOffer(ctx, c, stored)
		},
		func(c *domain.BidChain) bool {
			return c.HasOffer(stored.ID)
		},
	)
	if err != nil {
		return domain.Offer{}, err
	}
	return stored, nil
}

// RespondToOffer accepts or counters the target offer on behalf of actor and
// returns the resulting chain.
func (s *NegotiationService) RespondToOffer(ctx context.Context, offerID string, actor domain.Party, action Action, price *decimal.Decimal, message *string) (*domain.BidChain, error) {
	switch action {
	case ActionAccept:
		return s.Accept(ctx, offerID, actor)
	case ActionCounter:
		if price == nil {
			return nil, fmt.Errorf("%w: counter requires a price", domain.ErrInvalidPrice)
		}
		return s.Counter(ctx, offerID, actor, *price, message)
	default:
		return nil, domain.ErrInvalidAction
	}
}

// Counter appends a new offer from actor to the chain holding offerID.
func (s *NegotiationService) Counter(ctx context.Context, offerID string, actor domain.Party, price decimal.Decimal, message *string) (*domain.BidChain, error) {
	if !actor.Valid() {
		return nil, domain.ErrUnknownParty
	}
	if err := domain.CheckPrice(price); err != nil {
		return nil, err
	}

	found, err := s.chains.FindChainByOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.log.Info("Countering offer", "chain_id", found.ID, "offer_id", offerID, "actor", actor.String(), "price", price.String())

	var stored domain.Offer
	return s.write(ctx, found.ID,
		func(c *domain.BidChain) (bool, error) {
			if ledger.IsChainAccepted(c) {
				return false, domain.ErrChainClosed
			}
			if !c.HasOffer(offerID) {
				return false, domain.ErrOfferNotFound
			}
			if actor == domain.Requester && !ledger.HasOfferFrom(c, domain.Counterparty) {
				return false, domain.ErrAwaitingCounterparty
			}
			o, err := s.ledger.Append(c, domain.Offer{FromParty: actor, Price: price, Message: message})
			if err != nil {
				return false, err
			}
			stored = o
			c.UpdatedAt = s.now().UTC()
			return true, nil
		},
		func(ctx context.Context, c *domain.BidChain) error {
			return s.chains.AppendOffer(ctx, c, stored)
		},
		func(c *domain.BidChain) bool {
			return c.HasOffer(stored.ID)
		},
	)
}

// Accept closes the deal on offerID. Accepting the already accepted offer
// again returns the terminal chain unchanged.
func (s *NegotiationService) Accept(ctx context.Context, offerID string, actor domain.Party) (*domain.BidChain, error) {
	if !actor.Valid() {
		return nil, domain.ErrUnknownParty
	}

	found, err := s.chains.FindChainByOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.log.Info("Accepting offer", "chain_id", found.ID, "offer_id", offerID, "actor", actor.String())

	return s.write(ctx, found.ID,
		func(c *domain.BidChain) (bool, error) {
			i := c.OfferIndex(offerID)
			if i < 0 {
				return false, domain.ErrOfferNotFound
			}
			target := c.Offers[i]

			if ledger.IsChainAccepted(c) {
				if target.Status == domain.OfferAccepted && target.FromParty != actor {
					return false, nil
				}
				return false, domain.ErrChainClosed
			}
			if target.FromParty == actor {
				return false, domain.ErrOwnOffer
			}
			if target.Status != domain.OfferPending {
				return false, domain.ErrOfferNotPending
			}
			if ledger.IsSuperseded(target, c) {
				return false, domain.ErrOfferSuperseded
			}

			ledger.Accept(c, offerID, s.now().UTC())
			return true, nil
		},
		s.chains.SaveAcceptance,
		func(c *domain.BidChain) bool {
			accepted, ok := c.AcceptedOffer()
			return ok && accepted.ID == offerID
		},
	)
}

func (s *NegotiationService) GetChain(ctx context.Context, chainID string) (*domain.BidChain, error) {
	return s.chains.GetChain(ctx, chainID)
}

func (s *NegotiationService) ListChains(ctx context.Context, listingID string) ([]*domain.BidChain, error) {
	return s.chains.ListChainsByListing(ctx, listingID)
}

// ValidateBid loads the listing snapshot and pre-flights amount against it.
func (s *NegotiationService) ValidateBid(ctx context.Context, listingID string, amount decimal.Decimal) (BidCheck, error) {
	if s.listings == nil {
		return BidCheck{}, domain.ErrListingNotFound
	}
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return BidCheck{}, err
	}
	return ValidateBidAmount(listing, amount, s.now()), nil
}

// preflight rejects doomed bids on auction lots before touching the chain.
// Listings without a snapshot are treated as negotiated.
func (s *NegotiationService) preflight(ctx context.Context, listingID string, price decimal.Decimal) error {
	if s.listings == nil {
		return nil
	}
	listing, err := s.listings.GetListing(ctx, listingID)
	if errors.Is(err, domain.ErrListingNotFound) {
		s.log.Debug("No listing snapshot, skipping bid pre-flight", "listing_id", listingID)
		return nil
	}
	if err != nil {
		return err
	}
	if listing.Kind != domain.ListingAuction {
		return nil
	}
	check := ValidateBidAmount(listing, price, s.now())
	if err := check.Verdict.Err(); err != nil {
		return fmt.Errorf("%w: minimum %s", err, check.EffectiveMinimum)
	}
	return nil
}

// resolveChain finds or opens the chain ref names. Negotiated listings get
// one chain per (listing, requester); auction lots share a single chain keyed
// by LotRequester, so every bid on the lot lands in the same ledger.
func (s *NegotiationService) resolveChain(ctx context.Context, ref ChainRef, from domain.Party) (*domain.BidChain, error) {
	if ref.ChainID != "" {
		return s.chains.GetChain(ctx, ref.ChainID)
	}
	if ref.ListingID == "" || ref.RequesterID == "" {
		return nil, fmt.Errorf("%w: chain reference needs a chain id or listing and requester", domain.ErrChainNotFound)
	}

	var listing *domain.Listing
	if s.listings != nil {
		l, err := s.listings.GetListing(ctx, ref.ListingID)
		switch {
		case err == nil:
			listing = l
		case !errors.Is(err, domain.ErrListingNotFound):
			return nil, err
		}
	}
	requesterID := ref.RequesterID
	if listing != nil && listing.Kind == domain.ListingAuction {
		requesterID = LotRequester
	}

	chain, err := s.chains.FindChainByParties(ctx, ref.ListingID, requesterID)
	if err == nil || !errors.Is(err, domain.ErrChainNotFound) {
		return chain, err
	}
	if from != domain.Requester {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, "new:"+ref.ListingID+":"+requesterID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	chain, err = s.chains.FindChainByParties(ctx, ref.ListingID, requesterID)
	if err == nil || !errors.Is(err, domain.ErrChainNotFound) {
		return chain, err
	}

	now := s.now().UTC()
	chain = &domain.BidChain{
		ID:          utils.GenerateID("chain"),
		ListingID:   ref.ListingID,
		RequesterID: requesterID,
		Status:      domain.ChainNegotiating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if listing != nil {
		chain.CounterpartyID = listing.OwnerID
	}

	err = s.chains.CreateChain(ctx, chain)
	if errors.Is(err, domain.ErrChainExists) {
		return s.chains.FindChainByParties(ctx, ref.ListingID, requesterID)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("Opened chain", "chain_id", chain.ID, "listing_id", chain.ListingID, "requester_id", chain.RequesterID)
	return chain, nil
}

// write runs one read-modify-write of a chain under the chain lock. apply
// mutates a clone and reports whether anything needs persisting; landed tells
// whether a stored chain already reflects the write, for resolving ambiguous
// failures. The resulting chain is published after the lock is released.
func (s *NegotiationService) write(
	ctx context.Context,
	chainID string,
	apply func(*domain.BidChain) (bool, error),
	persist func(context.Context, *domain.BidChain) error,
	landed func(*domain.BidChain) bool,
) (*domain.BidChain, error) {
	chain, written, err := s.writeLocked(ctx, chainID, apply, persist, landed)
	if err != nil {
		return nil, err
	}
	if written {
		s.publish(chain)
	}
	return chain, nil
}

func (s *NegotiationService) writeLocked(
	ctx context.Context,
	chainID string,
	apply func(*domain.BidChain) (bool, error),
	persist func(context.Context, *domain.BidChain) error,
	landed func(*domain.BidChain) bool,
) (*domain.BidChain, bool, error) {
	unlock, err := s.locker.Lock(ctx, chainID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.chains.GetChain(ctx, chainID)
		if err != nil {
			return nil, false, err
		}

		working := current.Clone()
		changed, err := apply(working)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}

		err = persist(ctx, working)
		switch {
		case err == nil:
			return working, true, nil
		case errors.Is(err, domain.ErrConcurrentUpdate) && attempt < maxWriteAttempts:
			s.log.Warn("Chain changed underneath write, re-validating", "chain_id", chainID, "attempt", attempt)
			continue
		case domain.IsAmbiguous(err):
			stored, err := s.resolveAfterFailure(chainID, err, landed)
			return stored, err == nil, err
		default:
			return nil, false, err
		}
	}
}

// resolveAfterFailure re-reads the chain after a write whose outcome is
// unknown. It uses a fresh context because the caller's may be done.
func (s *NegotiationService) resolveAfterFailure(chainID string, cause error, landed func(*domain.BidChain) bool) (*domain.BidChain, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.resolveTimeout)
	defer cancel()

	stored, err := s.chains.GetChain(ctx, chainID)
	if err != nil {
		s.log.Error("Could not resolve write outcome", "chain_id", chainID, "cause", cause, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrOutcomeUnknown, cause)
	}
	if landed(stored) {
		s.log.Info("Write landed despite failure", "chain_id", chainID, "cause", cause)
		return stored, nil
	}
	return nil, cause
}

func (s *NegotiationService) publish(chain *domain.BidChain) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.resolveTimeout)
	defer cancel()

	event := domain.NewChainUpdated(utils.GenerateID("evt"), chain, s.now().UTC())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Failed to publish chain update", "chain_id", chain.ID, "error", err)
	}
}
