package snapshot

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

func snapshotError(message string, category goerrors.Category, code int, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(snapshotTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func snapshotWrapError(source error, category goerrors.Category, message string, code int, metadata map[string]any) error {
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(snapshotTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func snapshotTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return core.ServiceErrorNotFound
	case goerrors.CategoryInternal:
		return core.ServiceErrorInternal
	default:
		return core.ServiceErrorExternal
	}
}
