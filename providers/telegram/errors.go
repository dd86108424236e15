package telegram

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

func telegramError(message string, category goerrors.Category, code int, metadata map[string]any) error {
	textCode := core.ServiceErrorExternal
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		textCode = core.ServiceErrorBadInput
	case goerrors.CategoryAuth:
		textCode = core.ServiceErrorUnauthorized
	case goerrors.CategoryInternal:
		textCode = core.ServiceErrorInternal
	}
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func telegramWrapError(source error, message string, metadata map[string]any) error {
	err := goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.ServiceErrorExternal)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
