package handlers

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/middleware"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type IntentBuilder interface {
	Build(ctx context.Context, req services.IntentRequest) (*services.IntentResult, error)
}

type IntentHandler struct {
	intents IntentBuilder
	log     *zap.Logger
}

func NewIntentHandler(intents IntentBuilder, log *zap.Logger) *IntentHandler {
	return &IntentHandler{intents: intents, log: log}
}

func (h *IntentHandler) RentalIntent(c *fiber.Ctx) error {
	return h.build(c, models.TransactionKindRental)
}

func (h *IntentHandler) PurchaseIntent(c *fiber.Ctx) error {
	return h.build(c, models.TransactionKindSale)
}

func (h *IntentHandler) build(c *fiber.Ctx, kind string) error {
	var req dto.IntentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return badRequest(c, "invalid listing_id")
	}

	in := services.IntentRequest{
		ListingID: listingID,
		BuyerID:   middleware.GetUserID(c),
		Kind:      kind,
	}
	if req.Shipping != nil {
		cost, err := pricing.ParseAmount(req.Shipping.CarrierCost)
		if err != nil {
			return badRequest(c, "invalid shipping.carrier_cost")
		}
		in.Shipping = &services.ShippingSelection{RateID: req.Shipping.RateID, CarrierCost: cost}
	}

	res, err := h.intents.Build(c.Context(), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: res})
}
