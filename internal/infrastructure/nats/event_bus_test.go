package nats

import (
	"testing"

	"negotiation-engine/internal/domain"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		ref  domain.EntityRef
		want string
	}{
		{ref: domain.ChainRef("chain_1"), want: "negotiation.chain.chain_1"},
		{ref: domain.ListingRef("lot.7"), want: "negotiation.listing.lot_7"},
		{ref: domain.ListingRef("a*b>c d"), want: "negotiation.listing.a_b_c_d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Subject("negotiation", tt.ref); got != tt.want {
				t.Errorf("Subject() = %v, want %v", got, tt.want)
			}
		})
	}
}
