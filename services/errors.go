// services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind classifies a service failure. Callers use the kind to decide
// whether an operation is retryable (upstream_unavailable, transfer_failed)
// or terminal (forbidden, invalid_transition). The service itself never
// retries.
type ErrorKind string

const (
	ErrKindValidation          ErrorKind = "validation"
	ErrKindNotFound            ErrorKind = "not_found"
	ErrKindForbidden           ErrorKind = "forbidden"
	ErrKindInvalidTransition   ErrorKind = "invalid_transition"
	ErrKindConflict            ErrorKind = "conflict"
	ErrKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrKindInsufficientFunds   ErrorKind = "insufficient_funds"
	ErrKindTransferFailed      ErrorKind = "transfer_failed"
)

// ServiceError carries a stable kind plus a human-readable message.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error // wrapped cause, if any
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Errf builds a ServiceError with a formatted message.
func Errf(kind ErrorKind, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds a ServiceError around an underlying cause.
func WrapErr(kind ErrorKind, err error, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error in the chain; unknown errors
// report an empty kind.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status the HTTP layer should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrKindValidation:
		return fiber.StatusBadRequest
	case ErrKindNotFound:
		return fiber.StatusNotFound
	case ErrKindForbidden:
		return fiber.StatusForbidden
	case ErrKindInvalidTransition, ErrKindConflict:
		return fiber.StatusConflict
	case ErrKindInsufficientFunds:
		return fiber.StatusPaymentRequired
	case ErrKindUpstreamUnavailable, ErrKindTransferFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
