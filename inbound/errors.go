package inbound

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

func inboundFailure(source error, category goerrors.Category, message string, metadata map[string]any) error {
	err := core.WrapServiceError(source, category, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
