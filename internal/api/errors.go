package api

import (
	"errors"
	"net/http"

	"trade-export/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var timeout *domain.TimeoutError
	var execution *domain.ExecutionError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &execution):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// statusLabel is the "status" field of an error body.
func statusLabel(code int) string {
	if code == http.StatusGatewayTimeout {
		return "timeout"
	}
	return "error"
}
