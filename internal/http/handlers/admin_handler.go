package handlers

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DepositOperator interface {
	RunSweep(ctx context.Context, actor services.Actor) (services.SweepResult, error)
	Remediate(ctx context.Context, transactionID uuid.UUID, actor services.Actor) (string, error)
}

type AdminHandler struct {
	deposits DepositOperator
	log      *zap.Logger
}

func NewAdminHandler(deposits DepositOperator, log *zap.Logger) *AdminHandler {
	return &AdminHandler{deposits: deposits, log: log}
}

func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	res, err := h.deposits.RunSweep(c.Context(), actorFrom(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *AdminHandler) Release(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transaction id")
	}

	result, err := h.deposits.Remediate(c.Context(), id, actorFrom(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.log.Info("deposit remediated",
		zap.String("transaction_id", id.String()),
		zap.String("admin_id", actorFrom(c).UserID.String()),
		zap.String("result", result))
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{TransactionID: id.String(), Result: result}})
}
