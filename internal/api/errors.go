package api

import (
	"errors"
	"net/http"

	"dispatchd/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var configuration *domain.ConfigurationError
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError
	var timeout *domain.TimeoutError
	var connectivity *domain.ConnectivityError
	var execution *domain.ExecutionError

	switch {
	case errors.As(err, &configuration):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &connectivity):
		return http.StatusServiceUnavailable
	case errors.As(err, &execution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorKind names the error class in responses so callers can branch
// without parsing messages.
func errorKind(err error) string {
	var configuration *domain.ConfigurationError
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError
	var timeout *domain.TimeoutError
	var connectivity *domain.ConnectivityError
	var execution *domain.ExecutionError
	var migration *domain.MigrationError

	switch {
	case errors.As(err, &configuration):
		return "configuration"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &connectivity):
		return "connectivity"
	case errors.As(err, &execution):
		return "execution"
	case errors.As(err, &migration):
		return "migration"
	default:
		return "internal"
	}
}
