package handlers

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TransactionReader interface {
	Get(ctx context.Context, actor services.Actor, id uuid.UUID) (*services.TransactionView, error)
	Events(ctx context.Context, actor services.Actor, id uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type TransactionHandler struct {
	reads TransactionReader
	log   *zap.Logger
}

func NewTransactionHandler(reads TransactionReader, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{reads: reads, log: log}
}

func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transaction id")
	}

	view, err := h.reads.Get(c.Context(), actorFrom(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

func (h *TransactionHandler) Events(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transaction id")
	}

	entries, err := h.reads.Events(c.Context(), actorFrom(c), id, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}
