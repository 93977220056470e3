// Package middleware provides the HTTP middleware of the ledger API:
// bearer and partner authentication, permissions and request metrics.
package middleware

import (
	"log/slog"
	"strings"

	"paysa/internal/models"
	"paysa/internal/utils"
	"paysa/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates JWT bearer tokens and stores the claims on the request.
type AuthMiddleware struct {
	secret string
	logger *slog.Logger
}

func NewAuthMiddleware(secret string, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{secret: secret, logger: logger}
}

// Handler checks for a Bearer token with a valid signature and expiry.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return response.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return response.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := utils.ParseToken(tokenString, m.secret)
	if err != nil {
		m.logger.DebugContext(c.UserContext(), "token rejected", "error", err, "path", c.Path())
		return response.Error(c, fiber.StatusUnauthorized, "invalid token")
	}

	c.Locals(utils.ClaimsKey, claims)
	return c.Next()
}

// HasPermission returns a middleware that checks for a specific permission.
// Admins hold every permission.
func HasPermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := utils.GetUserClaims(c)
		if err != nil {
			return response.Unauthorized(c)
		}
		if claims.Role == "admin" || claims.HasPermission(permission) {
			return c.Next()
		}
		return response.Forbidden(c)
	}
}

// AdminOnly allows requests whose claims carry the ledger admin permission.
func AdminOnly(c *fiber.Ctx) error {
	return HasPermission(models.PermissionLedgerAdmin)(c)
}
