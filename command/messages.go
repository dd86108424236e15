package command

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

const (
	TypeSubscribe      = "govnotify.command.subscription.subscribe"
	TypeUnsubscribe    = "govnotify.command.subscription.unsubscribe"
	TypeIngestEvent    = "govnotify.command.event.ingest"
	TypeRedeliverEvent = "govnotify.command.event.redeliver"
)

type SubscribeMessage struct {
	UserID string
	Delta  core.SubscriptionDelta
}

func (SubscribeMessage) Type() string { return TypeSubscribe }

func (m SubscribeMessage) Validate() error {
	return validateSubscriptionChange(m.UserID, m.Delta)
}

// UnsubscribeMessage removes the delta's values from the user's subscription.
// Tickers set to true turns the ticker opt-in off.
type UnsubscribeMessage struct {
	UserID string
	Delta  core.SubscriptionDelta
}

func (UnsubscribeMessage) Type() string { return TypeUnsubscribe }

func (m UnsubscribeMessage) Validate() error {
	return validateSubscriptionChange(m.UserID, m.Delta)
}

type IngestEventMessage struct {
	Event core.Event
}

func (IngestEventMessage) Type() string { return TypeIngestEvent }

func (m IngestEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.EventID) == "" {
		return core.NewFieldError("command: validation failed", "event_id", "event id is required")
	}
	return wrapEventError(m.Event.Validate())
}

type RedeliverEventMessage struct {
	EventID string
}

func (RedeliverEventMessage) Type() string { return TypeRedeliverEvent }

func (m RedeliverEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewFieldError("command: validation failed", "event_id", "event id is required")
	}
	return nil
}

func validateSubscriptionChange(userID string, delta core.SubscriptionDelta) error {
	if strings.TrimSpace(userID) == "" {
		return core.NewFieldError("command: validation failed", "user_id", "user id is required")
	}
	if delta.Normalized().IsEmpty() {
		return core.NewServiceError(goerrors.CategoryBadInput, "command: subscription change carries no values")
	}
	return nil
}

func wrapEventError(err error) error {
	if err == nil {
		return nil
	}
	return core.WrapServiceError(err, goerrors.CategoryValidation, "command: invalid event")
}
