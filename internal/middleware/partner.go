package middleware

import (
	"log/slog"

	"paysa/internal/utils"
	"paysa/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// PartnerKeyHeader carries the API key of a payment partner calling back with a settlement result.
const PartnerKeyHeader = "X-API-Key"

// PartnerKey admits requests whose API key matches one of the configured bcrypt hashes.
// With no hashes configured every request is refused.
func PartnerKey(hashes []string, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		if !utils.MatchesAny(c.Get(PartnerKeyHeader), hashes) {
			logger.WarnContext(c.UserContext(), "partner key rejected", "path", c.Path(), "ip", c.IP())
			return response.Unauthorized(c)
		}
		return c.Next()
	}
}
