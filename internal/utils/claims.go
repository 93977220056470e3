package utils

import (
	"errors"

	"paysa/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ClaimsKey is the fiber.Ctx local holding the authenticated *models.UserClaims.
const ClaimsKey = "claims"

var ErrNoClaims = errors.New("claims not found in context")

// GetUserClaims extracts the user claims from the Fiber context.
func GetUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := c.Locals(ClaimsKey).(*models.UserClaims)
	if !ok || claims == nil || claims.UserID == "" {
		return nil, ErrNoClaims
	}
	return claims, nil
}
