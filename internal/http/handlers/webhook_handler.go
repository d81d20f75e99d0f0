package handlers

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const stripeSignatureHeader = "Stripe-Signature"

type WebhookIngestor interface {
	HandlePayment(ctx context.Context, payload []byte, signature string) error
	HandleTracking(ctx context.Context, body []byte, signature, token string) error
}

// WebhookHandler answers 200 to every verified delivery, whatever happened
// while applying it; only an authenticity failure gets 401.
type WebhookHandler struct {
	webhooks WebhookIngestor
	log      *zap.Logger
}

func NewWebhookHandler(webhooks WebhookIngestor, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, log: log}
}

func (h *WebhookHandler) Payment(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	if err := h.webhooks.HandlePayment(c.Context(), body, c.Get(stripeSignatureHeader)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature", Kind: "unauthorized"})
	}
	return c.JSON(dto.WebhookAck{Received: true})
}

func (h *WebhookHandler) Shipment(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	if err := h.webhooks.HandleTracking(c.Context(), body, c.Get(shipping.SignatureHeader), c.Query("token")); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature", Kind: "unauthorized"})
	}
	return c.JSON(dto.WebhookAck{Received: true})
}
