package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/filterchain"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/models"
	"github.com/pvmonitor/pvdash/internal/services"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// BackendStatus reports the state of the time-series client.
type BackendStatus interface {
	Configured() bool
	BreakerState() string
}

// Configurable reports whether a client has its credentials.
type Configurable interface {
	Configured() bool
}

// now stamps responses.
var now = func() string { return time.Now().UTC().Format(time.RFC3339) }

// Handler contains all HTTP handlers
type Handler struct {
	logger    *logging.Logger
	explorer  *services.ExplorerService
	dashboard *services.DashboardService
	sessions  *filterchain.Manager
	influx    BackendStatus
	grafana   Configurable
}

// Deps are the components the handlers serve.
type Deps struct {
	Explorer  *services.ExplorerService
	Dashboard *services.DashboardService
	Sessions  *filterchain.Manager
	Influx    BackendStatus
	Grafana   Configurable
}

// New creates a new handler instance
func New(logger *logging.Logger, deps Deps) *Handler {
	return &Handler{
		logger:    logger,
		explorer:  deps.Explorer,
		dashboard: deps.Dashboard,
		sessions:  deps.Sessions,
		influx:    deps.Influx,
		grafana:   deps.Grafana,
	}
}

// parseBody decodes and validates a JSON body.
func (h *Handler) parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return services.NewServiceErrorWithDetails(services.CodeInvalidRequest,
			"Failed to parse JSON body", map[string]interface{}{"error": err.Error()})
	}
	return validated(dst)
}

// parseQuery decodes and validates the query string.
func (h *Handler) parseQuery(c *fiber.Ctx, dst interface{}) error {
	if err := c.QueryParser(dst); err != nil {
		return services.NewServiceErrorWithDetails(services.CodeInvalidRequest,
			"Failed to parse query string", map[string]interface{}{"error": err.Error()})
	}
	return validated(dst)
}

func validated(dst interface{}) error {
	err := models.Validate(dst)
	if err == nil {
		return nil
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return services.NewServiceError(services.CodeInvalidRequest, fe.Message)
	}
	return services.NewServiceError(services.CodeInvalidRequest, err.Error())
}

// status builds the envelope of a response. A nil error is a success from
// source; otherwise the error message is attached and, for a configuration
// error, the variables to set.
func status(source string, err error) models.Status {
	if err == nil {
		return models.OK(source)
	}
	se := services.Classify(err)
	st := models.Failed(source, se.Message)
	if se.Code == services.CodeNotConfigured {
		st.Source = models.SourceEnvError
		if missing, ok := se.Details["missing"].([]string); ok {
			st.Missing = missing
		}
	}
	return st
}

// reply writes body. Failures that still carry a usable fallback payload
// (configuration, connectivity and parse errors) answer 200 with
// success false; validation and lookup failures use the error status.
func (h *Handler) reply(c *fiber.Ctx, err error, body interface{}) error {
	if err == nil {
		return c.JSON(body)
	}
	se := services.Classify(err)
	code := se.HTTPStatus()
	switch se.Code {
	case services.CodeNotConfigured, services.CodeBackendUnavailable,
		services.CodeParseFailed, services.CodePartialResult:
		code = fiber.StatusOK
	}
	if code >= fiber.StatusInternalServerError {
		logging.ErrorCtx(c.UserContext(), "Request failed", "path", c.Path(), "code", se.Code, "error", err)
	} else {
		logging.WarnCtx(c.UserContext(), "Request degraded", "path", c.Path(), "code", se.Code, "error", err)
	}
	return c.Status(code).JSON(body)
}

// fail answers an error without a payload.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	se := services.Classify(err)
	return c.Status(se.HTTPStatus()).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:      se.Code,
			Message:   se.Message,
			Path:      c.Path(),
			RequestID: logging.RequestID(c.UserContext()),
			Details:   se.Details,
		},
	})
}
