package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput           = "GOVNOTIFY_BAD_INPUT"
	ServiceErrorNotFound           = "GOVNOTIFY_NOT_FOUND"
	ServiceErrorUnauthorized       = "GOVNOTIFY_UNAUTHORIZED"
	ServiceErrorConflict           = "GOVNOTIFY_CONFLICT"
	ServiceErrorExternal           = "GOVNOTIFY_EXTERNAL"
	ServiceErrorRateLimited        = "GOVNOTIFY_RATE_LIMITED"
	ServiceErrorDeliveryIncomplete = "GOVNOTIFY_DELIVERY_INCOMPLETE"
	ServiceErrorInternal           = "GOVNOTIFY_INTERNAL"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidEventKind):
		return wrapServiceError(err, goerrors.CategoryValidation, ServiceErrorBadInput)
	case errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidNotification),
		errors.Is(err, ErrSubscriptionUnchanged):
		return wrapServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	case errors.Is(err, ErrMatchRecordNotFound), errors.Is(err, ErrEventNotFound):
		return wrapServiceError(err, goerrors.CategoryNotFound, ServiceErrorNotFound)
	case errors.Is(err, ErrDeliveryIncomplete):
		return wrapServiceError(err, goerrors.CategoryOperation, ServiceErrorDeliveryIncomplete)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapServiceError(err, goerrors.CategoryExternal, ServiceErrorExternal)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "signature"):
		return wrapServiceError(err, goerrors.CategoryAuth, ServiceErrorUnauthorized)
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return wrapServiceError(err, goerrors.CategoryConflict, ServiceErrorConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return wrapServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func wrapServiceError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorUnauthorized
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryExternal:
		return ServiceErrorExternal
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewServiceError builds an envelope whose HTTP status and text code follow
// category.
func NewServiceError(category goerrors.Category, message string) *goerrors.Error {
	return ensureServiceErrorEnvelope(goerrors.New(message, category))
}

// WrapServiceError wraps source under category, replacing any status or
// text code source already carried.
func WrapServiceError(source error, category goerrors.Category, message string) *goerrors.Error {
	if source == nil {
		return NewServiceError(category, message)
	}
	wrapped := goerrors.Wrap(source, category, message)
	wrapped.Category = category
	wrapped.Code = serviceHTTPStatus(category)
	wrapped.TextCode = defaultServiceTextCode(category)
	return wrapped
}

// NewFieldError reports one invalid message field.
func NewFieldError(message string, field string, reason string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.NewValidation(message, goerrors.FieldError{Field: field, Message: reason}).
			WithSeverity(goerrors.SeverityError),
	)
}

// MapError normalizes any error into a go-errors envelope with a
// GOVNOTIFY_* text code and an HTTP status.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}
