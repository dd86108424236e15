package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

func TestSubscribeMessage_ValidateReturnsRichError(t *testing.T) {
	err := (SubscribeMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ServiceErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ServiceErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "user_id" {
		t.Fatalf("expected user_id validation field, got %#v", validation)
	}
}

func TestIngestEventMessage_InvalidEventWrapsCause(t *testing.T) {
	err := (IngestEventMessage{Event: core.Event{EventID: "e1"}}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if !goerrors.Is(err, core.ErrInvalidEvent) {
		t.Fatalf("expected wrapped invalid event sentinel, got %v", err)
	}
}

func TestSubscribeCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *SubscribeCommand
	err := cmd.Execute(context.Background(), SubscribeMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
