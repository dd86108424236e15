package webhooks

import (
	"net/http"

	"github.com/goliatone/go-govnotify/core"

	goerrors "github.com/goliatone/go-errors"
)

func webhookError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func webhookWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	if source == nil {
		return webhookError(message, category, code, textCode, metadata)
	}
	var rich *goerrors.Error
	if goerrors.As(source, &rich) {
		return source
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func webhookBadInput(message string, metadata map[string]any) error {
	return webhookError(message, goerrors.CategoryBadInput, http.StatusBadRequest, core.ServiceErrorBadInput, metadata)
}

func webhookUnauthorized(source error, metadata map[string]any) error {
	return webhookWrapError(
		source,
		goerrors.CategoryAuth,
		"webhooks: verification failed",
		http.StatusUnauthorized,
		core.ServiceErrorUnauthorized,
		metadata,
	)
}

func webhookInternal(source error, message string, metadata map[string]any) error {
	return webhookWrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, core.ServiceErrorInternal, metadata)
}
