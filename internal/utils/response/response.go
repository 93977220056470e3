// Package response writes the JSON envelopes shared by every handler.
package response

import (
	apperrors "paysa/internal/errors"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data any) error {
	return JSON(c, fiber.StatusOK, message, data)
}

func JSON(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"code": errorCode(status), "message": message},
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *fiber.Ctx) error {
	return Error(c, fiber.StatusForbidden, "Insufficient permissions")
}

// Domain writes a DomainError with the status its kind maps to. Internal
// errors never leak their cause. data, when non-nil, is the record the
// error refers to.
func Domain(c *fiber.Ctx, de *apperrors.DomainError, data any) error {
	body := fiber.Map{"kind": de.Kind, "code": de.Code, "message": de.Message}
	if de.Kind == apperrors.KindInternal {
		body = fiber.Map{"kind": de.Kind, "code": apperrors.KindInternal, "message": "internal error"}
	} else if len(de.Details) > 0 {
		body["details"] = de.Details
	}
	out := fiber.Map{"error": body}
	if data != nil {
		out["data"] = data
	}
	return c.Status(de.Kind.HTTPStatus()).JSON(out)
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "ERROR"
	}
}
