package handlers

import (
	"errors"

	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/chris-briden/edc-exchange-sub000/internal/middleware"
	"github.com/chris-briden/edc-exchange-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUpstream):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// writeError maps a service error onto a status and a JSON body. Internal
// errors are logged and their text withheld.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Kind: services.Kind(err), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Kind: "validation"})
}

func actorFrom(c *fiber.Ctx) services.Actor {
	return services.Actor{UserID: middleware.GetUserID(c), IsAdmin: middleware.IsAdmin(c)}
}

func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
