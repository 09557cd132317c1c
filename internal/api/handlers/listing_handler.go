package handlers

import (
	"net/http"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/services"
	"negotiation-engine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// ListingHandler receives snapshots and confirmed price changes from the
// listing collaborator.
type ListingHandler struct {
	listings *services.ListingService
	log      logger.Logger
}

type PriceChangeRequest struct {
	Price         decimal.Decimal `json:"price"`
	HighestBidder *string         `json:"highest_bidder,omitempty"`
}

func NewListingHandler(listings *services.ListingService, log logger.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		log:      log,
	}
}

func (h *ListingHandler) Register(g *echo.Group) {
	g.GET("/listings/:id", h.GetListing)
	g.PUT("/listings/:id", h.PutListing)
	g.POST("/listings/:id/price", h.RecordPriceChange)
}

func (h *ListingHandler) GetListing(c echo.Context) error {
	listing, err := h.listings.GetListing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "GetListing", err)
	}
	return c.JSON(http.StatusOK, listing)
}

func (h *ListingHandler) PutListing(c echo.Context) error {
	var listing domain.Listing
	if err := c.Bind(&listing); err != nil {
		h.log.Warn("Failed to bind listing", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation.String()})
	}
	listing.ID = c.Param("id")

	stored, err := h.listings.IngestListing(c.Request().Context(), &listing)
	if err != nil {
		return h.fail(c, "PutListing", err)
	}
	return c.JSON(http.StatusOK, stored)
}

func (h *ListingHandler) RecordPriceChange(c echo.Context) error {
	var req PriceChangeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation.String()})
	}

	listing, err := h.listings.RecordPriceChange(c.Request().Context(), c.Param("id"), req.Price, req.HighestBidder)
	if err != nil {
		return h.fail(c, "RecordPriceChange", err)
	}
	return c.JSON(http.StatusOK, listing)
}

func (h *ListingHandler) fail(c echo.Context, op string, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "op", op, "kind", kind.String(), "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}
