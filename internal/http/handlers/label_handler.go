package handlers

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LabelManager interface {
	Purchase(ctx context.Context, actor services.Actor, req services.LabelRequest) (*services.LabelResult, error)
	VoidReturn(ctx context.Context, actor services.Actor, shipmentID uuid.UUID) error
}

type LabelHandler struct {
	labels LabelManager
	log    *zap.Logger
}

func NewLabelHandler(labels LabelManager, log *zap.Logger) *LabelHandler {
	return &LabelHandler{labels: labels, log: log}
}

func (h *LabelHandler) Purchase(c *fiber.Ctx) error {
	var req dto.PurchaseLabelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	in := services.LabelRequest{
		ShipmentType:        req.ShipmentType,
		RateID:              req.RateID,
		ExternalShipmentID:  req.ShipmentID,
		Carrier:             req.Carrier,
		From:                req.From,
		To:                  req.To,
		Parcel:              req.Parcel,
		GenerateReturnLabel: req.GenerateReturnLabel,
	}

	var err error
	if in.TransactionID, err = parseOptionalUUID(req.TransactionID); err != nil {
		return badRequest(c, "invalid transaction_id")
	}
	if in.OutboundShipmentID, err = parseOptionalUUID(req.OutboundShipmentID); err != nil {
		return badRequest(c, "invalid outbound_shipment_id")
	}
	if in.OutboundShipmentID == nil {
		// outbound purchases need the full route; returns derive it
		if in.SenderID, err = uuid.Parse(req.SenderID); err != nil {
			return badRequest(c, "invalid sender_id")
		}
		if in.RecipientID, err = uuid.Parse(req.RecipientID); err != nil {
			return badRequest(c, "invalid recipient_id")
		}
		if in.CarrierCost, err = pricing.ParseAmount(req.CarrierCost); err != nil {
			return badRequest(c, "invalid carrier_cost")
		}
	}

	res, err := h.labels.Purchase(c.Context(), actorFrom(c), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *LabelHandler) Void(c *fiber.Ctx) error {
	var req dto.VoidLabelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	id, err := uuid.Parse(req.ShipmentID)
	if err != nil {
		return badRequest(c, "invalid shipment_id")
	}

	if err := h.labels.VoidReturn(c.Context(), actorFrom(c), id); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
