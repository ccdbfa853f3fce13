// Package services provides the business logic layer between handlers and
// the backend clients. Services orchestrate lookups, apply fallbacks and
// classify failures into ServiceError codes.
package services

import (
	"errors"
	"net/http"

	"github.com/pvmonitor/pvdash/internal/alerting"
	"github.com/pvmonitor/pvdash/internal/export"
	"github.com/pvmonitor/pvdash/internal/filterchain"
	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/influx"
	"github.com/pvmonitor/pvdash/internal/metrics"
	"github.com/pvmonitor/pvdash/internal/tabular"
)

// Error codes.
const (
	CodeNotConfigured      = "NOT_CONFIGURED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeParseFailed        = "PARSE_FAILED"
	CodePartialResult      = "PARTIAL_RESULT"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNoBucket           = "NO_BUCKET"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// ServiceError represents a service layer error
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the classified error.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// HTTPStatus is the response status for the code.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest, CodeNoBucket:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotConfigured, CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case CodeParseFailed:
		return http.StatusBadGateway
	case CodePartialResult:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// NewServiceError creates a new ServiceError
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
	}
}

// NewServiceErrorWithDetails creates a new ServiceError with details
func NewServiceErrorWithDetails(code, message string, details map[string]interface{}) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Classify maps an error from the lower layers onto a ServiceError. A
// ServiceError is returned unchanged and nil stays nil.
func Classify(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}

	code := CodeInternal
	switch {
	case errors.Is(err, influx.ErrNotConfigured), errors.Is(err, alerting.ErrNotConfigured):
		code = CodeNotConfigured
	case errors.Is(err, influx.ErrBackend), errors.Is(err, alerting.ErrUnavailable):
		code = CodeBackendUnavailable
	case errors.Is(err, tabular.ErrEmpty):
		code = CodeParseFailed
	case errors.Is(err, flux.ErrNoBucket):
		code = CodeNoBucket
	case errors.Is(err, filterchain.ErrFilterNotFound), errors.Is(err, filterchain.ErrClosed):
		code = CodeNotFound
	case errors.Is(err, flux.ErrInvalidRange),
		errors.Is(err, flux.ErrInvalidWindow),
		errors.Is(err, flux.ErrUnknownFunction),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, filterchain.ErrDuplicateKey),
		errors.Is(err, filterchain.ErrReservedKey),
		errors.Is(err, filterchain.ErrWrongKind),
		errors.Is(err, metrics.ErrUnknownMetric),
		errors.Is(err, metrics.ErrUnknownPlant),
		errors.Is(err, metrics.ErrInvalidHours):
		code = CodeInvalidRequest
	}
	return &ServiceError{Code: code, Message: err.Error(), cause: err}
}
