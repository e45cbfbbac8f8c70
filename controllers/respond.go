package controllers

import (
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"opsvantage/engine"
	"opsvantage/utils"
)

// errInvalidID marks a malformed or zero :id route param.
var errInvalidID = errors.New("invalid id")

// respondEngineError maps the engine's failure taxonomy to HTTP statuses.
// Anything outside the taxonomy is a server fault and goes to Sentry.
func respondEngineError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errInvalidID):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid id", err)
	case errors.Is(err, engine.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Resource not found", err)
	case errors.Is(err, engine.ErrValidation):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	case errors.Is(err, engine.ErrInvalidState):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Operation not allowed in current state", err)
	case errors.Is(err, engine.ErrConflict):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Conflicting concurrent operation", err)
	default:
		sentry.CaptureException(err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", err)
	}
}

// parseID reads a :id route param, rejecting zero and garbage.
func parseID(c *fiber.Ctx) (uint, error) {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return 0, errInvalidID
	}
	return id, nil
}
