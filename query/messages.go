package query

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

const (
	TypeGetSubscription   = "govnotify.query.subscription.get"
	TypeListSubscriptions = "govnotify.query.subscription.list"
	TypeGetMatchRecord    = "govnotify.query.match_record.get"

	MaxListLimit = 500
)

type GetSubscriptionMessage struct {
	UserID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return core.NewFieldError("query: validation failed", "user_id", "user id is required")
	}
	return nil
}

// ListSubscriptionsMessage pages subscriptions in user id order. Cursor is the
// last user id of the previous page; a zero Limit selects the service default.
type ListSubscriptionsMessage struct {
	Cursor string
	Limit  int
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (m ListSubscriptionsMessage) Validate() error {
	if m.Limit < 0 || m.Limit > MaxListLimit {
		return core.NewServiceError(goerrors.CategoryBadInput, "query: limit must be between 0 and 500")
	}
	return nil
}

type GetMatchRecordMessage struct {
	EventID string
}

func (GetMatchRecordMessage) Type() string { return TypeGetMatchRecord }

func (m GetMatchRecordMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewFieldError("query: validation failed", "event_id", "event id is required")
	}
	return nil
}
