package handlers

import (
	"net/http"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/services"
	"negotiation-engine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type NegotiationHandler struct {
	negotiation *services.NegotiationService
	log         logger.Logger
}

type SubmitOfferRequest struct {
	ChainID     string          `json:"chain_id"`
	ListingID   string          `json:"listing_id"`
	RequesterID string          `json:"requester_id"`
	FromParty   domain.Party    `json:"from_party"`
	Price       decimal.Decimal `json:"price"`
	Message     *string         `json:"message,omitempty"`
}

type RespondRequest struct {
	FromParty domain.Party     `json:"from_party"`
	Action    string           `json:"action"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Message   *string          `json:"message,omitempty"`
}

type ValidateBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ValidateBidResponse struct {
	ListingID        string              `json:"listing_id"`
	Verdict          services.BidVerdict `json:"verdict"`
	EffectiveMinimum decimal.Decimal     `json:"effective_minimum"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func NewNegotiationHandler(negotiation *services.NegotiationService, log logger.Logger) *NegotiationHandler {
	return &NegotiationHandler{
		negotiation: negotiation,
		log:         log,
	}
}

func (h *NegotiationHandler) Register(g *echo.Group) {
	g.POST("/offers", h.SubmitOffer)
	g.POST("/offers/:id/respond", h.RespondToOffer)
	g.GET("/chains/:id", h.GetChain)
	g.GET("/listings/:id/chains", h.ListChains)
	g.POST("/listings/:id/validate-bid", h.ValidateBid)
}

func (h *NegotiationHandler) SubmitOffer(c echo.Context) error {
	var req SubmitOfferRequest
	if err := c.Bind(&req); err != nil {
		h.log.Warn("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation.String()})
	}

	ref := services.ChainRef{ChainID: req.ChainID, ListingID: req.ListingID, RequesterID: req.RequesterID}
	offer, err := h.negotiation.SubmitOffer(c.Request().Context(), ref, req.FromParty, req.Price, req.Message)
	if err != nil {
		return h.fail(c, "SubmitOffer", err)
	}

	h.log.Info("Offer submitted", "offer_id", offer.ID, "chain_id", offer.ChainID, "from", offer.FromParty.String())
	return c.JSON(http.StatusCreated, offer)
}

func (h *NegotiationHandler) RespondToOffer(c echo.Context) error {
	offerID := c.Param("id")

	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		h.log.Warn("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation.String()})
	}

	action, err := services.ParseAction(req.Action)
	if err != nil {
		return h.fail(c, "RespondToOffer", err)
	}

	chain, err := h.negotiation.RespondToOffer(c.Request().Context(), offerID, req.FromParty, action, req.Price, req.Message)
	if err != nil {
		return h.fail(c, "RespondToOffer", err)
	}
	return c.JSON(http.StatusOK, chain)
}

func (h *NegotiationHandler) GetChain(c echo.Context) error {
	chain, err := h.negotiation.GetChain(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "GetChain", err)
	}
	return c.JSON(http.StatusOK, chain)
}

func (h *NegotiationHandler) ListChains(c echo.Context) error {
	chains, err := h.negotiation.ListChains(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "ListChains", err)
	}
	return c.JSON(http.StatusOK, chains)
}

// ValidateBid answers 200 for every verdict; only lookup failures are errors.
func (h *NegotiationHandler) ValidateBid(c echo.Context) error {
	listingID := c.Param("id")

	var req ValidateBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation.String()})
	}

	check, err := h.negotiation.ValidateBid(c.Request().Context(), listingID, req.Amount)
	if err != nil {
		return h.fail(c, "ValidateBid", err)
	}
	return c.JSON(http.StatusOK, ValidateBidResponse{
		ListingID:        listingID,
		Verdict:          check.Verdict,
		EffectiveMinimum: check.EffectiveMinimum,
	})
}

func (h *NegotiationHandler) fail(c echo.Context, op string, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "op", op, "kind", kind.String(), "error", err)
	} else {
		h.log.Info("Request rejected", "op", op, "kind", kind.String(), "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

// StatusFor maps an error kind onto the HTTP status callers see.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
