package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"paymesh/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCurrencyUnsupported), errors.Is(err, domain.ErrConversionUnavailable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMarketNotFound),
		errors.Is(err, domain.ErrGatewayNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyConfirmed):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// sendError writes err with its mapped status. Internal errors are logged
// and their text is not echoed to the caller.
func sendError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()

	var pe *domain.PaymentError
	if errors.As(err, &pe) {
		msg = pe.Message
	}
	if status == fiber.StatusInternalServerError {
		slog.Error("Request failed", "method", c.Method(), "path", c.Path(), "err", err)
		msg = "internal error"
	}

	return c.Status(status).JSON(errorResponse{
		Error:   domain.ErrorCode(err),
		Message: msg,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
		Error:   domain.ErrorCode(domain.ErrValidation),
		Message: msg,
	})
}
