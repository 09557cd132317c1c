package services

import (
	"encoding/json"
	"testing"
	"time"

	"negotiation-engine/internal/domain"

	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeListing(price string) *domain.Listing {
	return &domain.Listing{
		ID:           "listing-1",
		Kind:         domain.ListingAuction,
		CurrentPrice: d(price),
		Status:       domain.ListingActive,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestValidateBidAmount(t *testing.T) {
	tests := []struct {
		name    string
		listing func() *domain.Listing
		amount  string
		want    BidVerdict
		wantMin string
	}{
		{name: "current price is too low", listing: func() *domain.Listing { return activeListing("50") }, amount: "50", want: BidTooLow, wantMin: "51"},
		{name: "one unit above current price", listing: func() *domain.Listing { return activeListing("50") }, amount: "51", want: BidValid, wantMin: "51"},
		{name: "just below fallback minimum", listing: func() *domain.Listing { return activeListing("50") }, amount: "50.99", want: BidTooLow, wantMin: "51"},
		{
			name: "min next bid boundary is inclusive",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.MinNextBid = decimal.NewNullDecimal(d("55.50"))
				return l
			},
			amount: "55.50", want: BidValid, wantMin: "55.5",
		},
		{
			name: "one cent below min next bid",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.MinNextBid = decimal.NewNullDecimal(d("55.50"))
				return l
			},
			amount: "55.49", want: BidTooLow, wantMin: "55.5",
		},
		{
			name: "zero min next bid falls back",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.MinNextBid = decimal.NewNullDecimal(decimal.Zero)
				return l
			},
			amount: "50.5", want: BidTooLow, wantMin: "51",
		},
		{
			name: "above max bid",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.MaxBid = decimal.NewNullDecimal(d("100"))
				return l
			},
			amount: "100.01", want: BidTooHigh, wantMin: "51",
		},
		{
			name: "at max bid",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.MaxBid = decimal.NewNullDecimal(d("100"))
				return l
			},
			amount: "100", want: BidValid, wantMin: "51",
		},
		{
			name: "ended listing",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.Status = domain.ListingEnded
				return l
			},
			amount: "60", want: BidAuctionClosed, wantMin: "51",
		},
		{
			name: "closed listing",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.Status = domain.ListingClosed
				return l
			},
			amount: "60", want: BidAuctionClosed, wantMin: "51",
		},
		{
			name: "expired status",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.Status = domain.ListingExpired
				return l
			},
			amount: "60", want: BidAuctionClosed, wantMin: "51",
		},
		{
			name: "expiry reached",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.ExpiresAt = now
				return l
			},
			amount: "60", want: BidAuctionClosed, wantMin: "51",
		},
		{
			name: "no expiry",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.ExpiresAt = time.Time{}
				return l
			},
			amount: "60", want: BidValid, wantMin: "51",
		},
		{
			name: "pending listing",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.Status = domain.ListingPending
				return l
			},
			amount: "60", want: BidNotStarted, wantMin: "51",
		},
		{
			name: "closed wins over too low",
			listing: func() *domain.Listing {
				l := activeListing("50")
				l.Status = domain.ListingClosed
				return l
			},
			amount: "1", want: BidAuctionClosed, wantMin: "51",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing := tt.listing()
			got := ValidateBidAmount(listing, d(tt.amount), now)
			if got.Verdict != tt.want {
				t.Errorf("ValidateBidAmount() verdict = %v, want %v", got.Verdict, tt.want)
			}
			if !got.EffectiveMinimum.Equal(d(tt.wantMin)) {
				t.Errorf("ValidateBidAmount() minimum = %v, want %v", got.EffectiveMinimum, tt.wantMin)
			}

			again := ValidateBidAmount(listing, d(tt.amount), now)
			if again.Verdict != got.Verdict || !again.EffectiveMinimum.Equal(got.EffectiveMinimum) {
				t.Errorf("ValidateBidAmount() not repeatable: %v then %v", got, again)
			}
		})
	}
}

func TestBidVerdictErr(t *testing.T) {
	if BidValid.Err() != nil {
		t.Errorf("BidValid.Err() = %v, want nil", BidValid.Err())
	}
	if BidTooLow.Err() != domain.ErrTooLow {
		t.Errorf("BidTooLow.Err() = %v, want ErrTooLow", BidTooLow.Err())
	}
	if domain.KindOf(BidAuctionClosed.Err()) != domain.KindStateConflict {
		t.Errorf("KindOf(AuctionClosed) = %v, want state_conflict", domain.KindOf(BidAuctionClosed.Err()))
	}
}

func TestBidCheckDecodesFromJSON(t *testing.T) {
	for _, v := range []BidVerdict{BidValid, BidTooLow, BidTooHigh, BidAuctionClosed, BidNotStarted} {
		raw, err := json.Marshal(BidCheck{Verdict: v, EffectiveMinimum: d("51")})
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", v, err)
		}
		var got BidCheck
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", raw, err)
		}
		if got.Verdict != v || !got.EffectiveMinimum.Equal(d("51")) {
			t.Errorf("decoded %+v, want verdict %v with minimum 51", got, v)
		}
	}

	var v BidVerdict
	if err := v.UnmarshalText([]byte("maybe")); err == nil {
		t.Error("UnmarshalText(maybe) error = nil, want unknown verdict")
	}
}
