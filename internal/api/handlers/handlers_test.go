package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/infrastructure/lock"
	"negotiation-engine/internal/infrastructure/memory"
	"negotiation-engine/internal/ledger"
	"negotiation-engine/internal/services"
	"negotiation-engine/pkg/logger"

	"github.com/labstack/echo/v4"
)

func newTestEcho() *echo.Echo {
	chains := memory.NewChainRepository()
	listings := memory.NewListingStore()
	bus := memory.NewBus()
	log := logger.NewNop()

	negotiation := services.NewNegotiationService(chains, listings, bus, lock.NewKeyedMutex(), ledger.New(), time.Second, log)
	listingSvc := services.NewListingService(listings, bus, log)

	e := echo.New()
	api := e.Group("/api/v1")
	NewNegotiationHandler(negotiation, log).Register(api)
	NewListingHandler(listingSvc, log).Register(api)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestNegotiationRoundTrip(t *testing.T) {
	e := newTestEcho()

	var opening domain.Offer
	code := do(t, e, http.MethodPost, "/api/v1/offers",
		`{"listing_id":"listing-1","requester_id":"buyer-1","from_party":"requester","price":"100"}`, &opening)
	if code != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", code)
	}

	var chain domain.BidChain
	code = do(t, e, http.MethodPost, "/api/v1/offers/"+opening.ID+"/respond",
		`{"from_party":"counterparty","action":"counter","price":"120"}`, &chain)
	if code != http.StatusOK {
		t.Fatalf("counter status = %d, want 200", code)
	}
	if len(chain.Offers) != 2 {
		t.Fatalf("chain has %d offers, want 2", len(chain.Offers))
	}
	counter := chain.Offers[1]

	code = do(t, e, http.MethodPost, "/api/v1/offers/"+counter.ID+"/respond",
		`{"from_party":"requester","action":"accept"}`, &chain)
	if code != http.StatusOK {
		t.Fatalf("accept status = %d, want 200", code)
	}
	if chain.Status != domain.ChainAccepted {
		t.Errorf("chain status = %v, want accepted", chain.Status)
	}

	var fetched domain.BidChain
	if code := do(t, e, http.MethodGet, "/api/v1/chains/"+opening.ChainID, "", &fetched); code != http.StatusOK {
		t.Fatalf("get chain status = %d, want 200", code)
	}
	if accepted, ok := fetched.AcceptedOffer(); !ok || accepted.ID != counter.ID {
		t.Errorf("accepted offer = %v, want %s", accepted.ID, counter.ID)
	}

	var chains []domain.BidChain
	if code := do(t, e, http.MethodGet, "/api/v1/listings/listing-1/chains", "", &chains); code != http.StatusOK || len(chains) != 1 {
		t.Errorf("list chains = %d with %d chains, want 200 with 1", code, len(chains))
	}

	code = do(t, e, http.MethodPost, "/api/v1/offers/"+counter.ID+"/respond",
		`{"from_party":"counterparty","action":"counter","price":"130"}`, nil)
	if code != http.StatusConflict {
		t.Errorf("counter on closed deal status = %d, want 409", code)
	}
}

func TestErrorStatuses(t *testing.T) {
	e := newTestEcho()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "non-positive price", method: http.MethodPost, path: "/api/v1/offers",
			body: `{"listing_id":"l","requester_id":"r","from_party":"requester","price":"0"}`, want: http.StatusUnprocessableEntity},
		{name: "missing party", method: http.MethodPost, path: "/api/v1/offers",
			body: `{"listing_id":"l","requester_id":"r","price":"10"}`, want: http.StatusUnprocessableEntity},
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/offers", body: `{`, want: http.StatusBadRequest},
		{name: "unknown action", method: http.MethodPost, path: "/api/v1/offers/offer-1/respond",
			body: `{"from_party":"requester","action":"reject"}`, want: http.StatusUnprocessableEntity},
		{name: "unknown offer", method: http.MethodPost, path: "/api/v1/offers/offer-1/respond",
			body: `{"from_party":"requester","action":"accept"}`, want: http.StatusNotFound},
		{name: "unknown chain", method: http.MethodGet, path: "/api/v1/chains/missing", want: http.StatusNotFound},
		{name: "unknown listing bid check", method: http.MethodPost, path: "/api/v1/listings/missing/validate-bid",
			body: `{"amount":"10"}`, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := do(t, e, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListingEndpoints(t *testing.T) {
	e := newTestEcho()

	code := do(t, e, http.MethodPut, "/api/v1/listings/listing-9",
		`{"kind":"auction","current_price":"50","status":"active"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("put listing status = %d, want 200", code)
	}

	var check ValidateBidResponse
	if code := do(t, e, http.MethodPost, "/api/v1/listings/listing-9/validate-bid", `{"amount":"50"}`, &check); code != http.StatusOK {
		t.Fatalf("validate status = %d, want 200", code)
	}
	if check.Verdict != services.BidTooLow || check.EffectiveMinimum.String() != "51" {
		t.Errorf("check = %+v, want too_low with minimum 51", check)
	}

	var listing domain.Listing
	if code := do(t, e, http.MethodPost, "/api/v1/listings/listing-9/price", `{"price":"75","highest_bidder":"buyer-2"}`, &listing); code != http.StatusOK {
		t.Fatalf("price status = %d, want 200", code)
	}
	if listing.CurrentPrice.String() != "75" || listing.HighestBidder == nil || *listing.HighestBidder != "buyer-2" {
		t.Errorf("listing = %+v, want price 75 by buyer-2", listing)
	}

	if code := do(t, e, http.MethodPost, "/api/v1/listings/listing-9/price", `{"price":"-1"}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("negative price status = %d, want 422", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindValidation, http.StatusUnprocessableEntity},
		{domain.KindStateConflict, http.StatusConflict},
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindTransport, http.StatusServiceUnavailable},
		{domain.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.kind); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
