package middleware

import (
	"strconv"
	"time"

	"paysa/internal/metrics"

	"github.com/gofiber/fiber/v2"
)

// Metrics records one observation per request, labelled by route pattern rather than raw path.
func Metrics(m metrics.Collector) fiber.Handler {
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
		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Method(), path, strconv.Itoa(status), time.Since(start))
		return err
	}
}
