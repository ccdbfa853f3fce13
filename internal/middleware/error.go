package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/services"
)

// ErrorHandler answers errors that escape the handlers. Fiber errors keep
// their status; service errors use their code; anything else is a 500.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		detail := models.ErrorDetail{
			Code:    services.CodeInternal,
			Message: "Internal Server Error",
			Path:    c.Path(),
		}

		var fe *fiber.Error
		var se *services.ServiceError
		switch {
		case errors.As(err, &fe):
			status = fe.Code
			detail.Code = codeForStatus(fe.Code)
			detail.Message = fe.Message
		case errors.As(err, &se):
			status = se.HTTPStatus()
			detail.Code = se.Code
			detail.Message = se.Message
			detail.Details = se.Details
		}

		fields := []interface{}{
			"path", c.Path(),
			"method", c.Method(),
			"status", status,
			"error", err,
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request error", fields...)
		} else {
			logger.Warn("Request error", fields...)
		}

		return c.Status(status).JSON(models.ErrorResponse{Error: detail})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return services.CodeInvalidRequest
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusNotFound:
		return services.CodeNotFound
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusServiceUnavailable:
		return services.CodeBackendUnavailable
	}
	if status >= fiber.StatusInternalServerError {
		return services.CodeInternal
	}
	return "ERROR"
}
