package services

import (
	"fmt"
	"time"

	"negotiation-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type BidVerdict int

const (
	BidValid BidVerdict = iota
	BidTooLow
	BidTooHigh
	BidAuctionClosed
	BidNotStarted
)

func (v BidVerdict) String() string {
	switch v {
	case BidValid:
		return "valid"
	case BidTooLow:
		return "too_low"
	case BidTooHigh:
		return "too_high"
	case BidAuctionClosed:
		return "auction_closed"
	case BidNotStarted:
		return "not_started"
	default:
		return "unknown"
	}
}

func (v BidVerdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *BidVerdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "valid":
		*v = BidValid
	case "too_low":
		*v = BidTooLow
	case "too_high":
		*v = BidTooHigh
	case "auction_closed":
		*v = BidAuctionClosed
	case "not_started":
		*v = BidNotStarted
	default:
		return fmt.Errorf("unknown bid verdict %q", text)
	}
	return nil
}

// Err maps the verdict onto the domain error returned to callers.
func (v BidVerdict) Err() error {
	switch v {
	case BidTooLow:
		return domain.ErrTooLow
	case BidTooHigh:
		return domain.ErrTooHigh
	case BidAuctionClosed:
		return domain.ErrAuctionClosed
	case BidNotStarted:
		return domain.ErrNotStarted
	default:
		return nil
	}
}

// BidCheck is the outcome of ValidateBidAmount. EffectiveMinimum is the
// smallest amount the listing currently accepts.
type BidCheck struct {
	Verdict          BidVerdict      `json:"verdict"`
	EffectiveMinimum decimal.Decimal `json:"effective_minimum"`
}

var minIncrement = decimal.NewFromInt(1)

// EffectiveMinimum is MinNextBid when present and positive, otherwise one
// unit above the current price.
func EffectiveMinimum(listing *domain.Listing) decimal.Decimal {
	if listing.MinNextBid.Valid && listing.MinNextBid.Decimal.IsPositive() {
		return listing.MinNextBid.Decimal
	}
	return listing.CurrentPrice.Add(minIncrement)
}

// ValidateBidAmount pre-flights a straight auction bid against a listing
// snapshot. It has no side effects; the listing collaborator remains the only
// authority that raises the current price.
func ValidateBidAmount(listing *domain.Listing, amount decimal.Decimal, now time.Time) BidCheck {
	check := BidCheck{Verdict: BidValid, EffectiveMinimum: EffectiveMinimum(listing)}

	switch {
	case listing.Status.Terminal():
		check.Verdict = BidAuctionClosed
	case !listing.ExpiresAt.IsZero() && !now.Before(listing.ExpiresAt):
		check.Verdict = BidAuctionClosed
	case listing.Status == domain.ListingPending:
		check.Verdict = BidNotStarted
	case amount.LessThan(check.EffectiveMinimum):
		check.Verdict = BidTooLow
	case listing.MaxBid.Valid && amount.GreaterThan(listing.MaxBid.Decimal):
		check.Verdict = BidTooHigh
	}
	return check
}
