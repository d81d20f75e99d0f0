package middleware

import (
	"strconv"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/gofiber/fiber/v2"
)

// MetricsMiddleware records request counts and latency by route pattern, so
// path parameters do not explode label cardinality.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
