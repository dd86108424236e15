package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category goerrors.Category
		textCode string
		status   int
	}{
		{
			name:     "invalid event",
			err:      fmt.Errorf("%w: title is required", ErrInvalidEvent),
			category: goerrors.CategoryValidation,
			textCode: ServiceErrorBadInput,
			status:   http.StatusBadRequest,
		},
		{
			name:     "blank user",
			err:      ErrInvalidUserID,
			category: goerrors.CategoryBadInput,
			textCode: ServiceErrorBadInput,
			status:   http.StatusBadRequest,
		},
		{
			name:     "missing record",
			err:      fmt.Errorf("load: %w", ErrMatchRecordNotFound),
			category: goerrors.CategoryNotFound,
			textCode: ServiceErrorNotFound,
			status:   http.StatusNotFound,
		},
		{
			name:     "incomplete delivery",
			err:      ErrDeliveryIncomplete,
			category: goerrors.CategoryOperation,
			textCode: ServiceErrorDeliveryIncomplete,
			status:   http.StatusInternalServerError,
		},
		{
			name:     "upstream timeout",
			err:      context.DeadlineExceeded,
			category: goerrors.CategoryExternal,
			textCode: ServiceErrorExternal,
			status:   http.StatusBadGateway,
		},
		{
			name:     "duplicate",
			err:      errors.New("sqlstore: duplicate key value"),
			category: goerrors.CategoryConflict,
			textCode: ServiceErrorConflict,
			status:   http.StatusConflict,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mapped := serviceErrorMapper(tc.err)
			if mapped.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, mapped.Category)
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
}

func TestServiceErrorMapper_PreservesRichErrors(t *testing.T) {
	rich := goerrors.New("already mapped", goerrors.CategoryAuthz).WithTextCode("CUSTOM")
	mapped := serviceErrorMapper(rich)
	if mapped.TextCode != "CUSTOM" {
		t.Fatalf("expected existing text code to survive, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden status, got %d", mapped.Code)
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(Config{}, WithNotificationQueue(newFIFOQueue()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Ingest(ctx, Event{EventID: "e1", Kind: EventKindCreated})
	assertTextCode(t, err, ServiceErrorBadInput)

	_, err = svc.Subscribe(ctx, "u1", SubscriptionDelta{})
	assertTextCode(t, err, ServiceErrorBadInput)

	_, err = svc.GetMatchRecord(ctx, "missing")
	assertTextCode(t, err, ServiceErrorNotFound)

	err = svc.Redeliver(ctx, "missing")
	assertTextCode(t, err, ServiceErrorNotFound)
}

func assertTextCode(t *testing.T, err error, textCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with text code %q", textCode)
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != textCode {
		t.Fatalf("expected text code %q, got %q", textCode, richErr.TextCode)
	}
}

func TestWrapServiceError_CategorySetsStatusAndCode(t *testing.T) {
	inner := goerrors.New("store offline", goerrors.CategoryNotFound).WithTextCode(ServiceErrorNotFound)
	wrapped := WrapServiceError(inner, goerrors.CategoryExternal, "inbound: handler execution failed")
	if wrapped.Category != goerrors.CategoryExternal || wrapped.Code != http.StatusBadGateway || wrapped.TextCode != ServiceErrorExternal {
		t.Fatalf("unexpected envelope: %+v", wrapped)
	}

	plain := WrapServiceError(ErrInvalidEvent, goerrors.CategoryValidation, "command: invalid event")
	if !errors.Is(plain, ErrInvalidEvent) || plain.TextCode != ServiceErrorBadInput {
		t.Fatalf("expected wrapped sentinel with bad input code, got %+v", plain)
	}

	field := NewFieldError("query: validation failed", "user_id", "user id is required")
	if field.Code != http.StatusBadRequest || field.TextCode != ServiceErrorBadInput {
		t.Fatalf("unexpected field error: %+v", field)
	}
	if got := field.AllValidationErrors(); len(got) != 1 || got[0].Field != "user_id" {
		t.Fatalf("expected user_id field, got %#v", got)
	}
}
