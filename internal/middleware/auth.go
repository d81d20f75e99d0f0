package middleware

import (
	"strings"

	"github.com/chris-briden/edc-exchange-sub000/internal/auth"
	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CtxUserID  = "user_id"
	CtxIsAdmin = "is_admin"
)

// AuthMiddleware verifies the bearer token and stores the caller's id and
// admin flag in Locals.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	unauthorized := func(c *fiber.Ctx, msg string) error {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: msg, Kind: "unauthorized"})
	}
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return unauthorized(c, "missing authorization header")
		}
		scheme, tokenStr, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, strings.TrimSpace(tokenStr))
		if err != nil {
			log.Debug("jwt rejected", zap.String("path", c.Path()), zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxIsAdmin, cfg.IsAdmin(claims.UserID))
		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func IsAdmin(c *fiber.Ctx) bool {
	ok, _ := c.Locals(CtxIsAdmin).(bool)
	return ok
}

// AdminMiddleware requires a user listed in ADMIN_USER_IDS. Must run after
// AuthMiddleware.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required", Kind: "forbidden"})
		}
		return c.Next()
	}
}
