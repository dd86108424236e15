package query

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (core.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error)
}

type MatchRecordReader interface {
	GetMatchRecord(ctx context.Context, eventID string) (core.MatchRecord, error)
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

func (q *GetSubscriptionQuery) Query(ctx context.Context, msg GetSubscriptionMessage) (core.Subscription, error) {
	if q == nil || q.reader == nil {
		return core.Subscription{}, core.NewServiceError(goerrors.CategoryInternal, "query: subscription reader is required")
	}
	return q.reader.GetSubscription(ctx, msg.UserID)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(ctx context.Context, msg ListSubscriptionsMessage) (core.SubscriptionPage, error) {
	if q == nil || q.reader == nil {
		return core.SubscriptionPage{}, core.NewServiceError(goerrors.CategoryInternal, "query: subscription reader is required")
	}
	return q.reader.ListSubscriptions(ctx, msg.Cursor, msg.Limit)
}

type GetMatchRecordQuery struct {
	reader MatchRecordReader
}

func NewGetMatchRecordQuery(reader MatchRecordReader) *GetMatchRecordQuery {
	return &GetMatchRecordQuery{reader: reader}
}

func (q *GetMatchRecordQuery) Query(ctx context.Context, msg GetMatchRecordMessage) (core.MatchRecord, error) {
	if q == nil || q.reader == nil {
		return core.MatchRecord{}, core.NewServiceError(goerrors.CategoryInternal, "query: match record reader is required")
	}
	return q.reader.GetMatchRecord(ctx, msg.EventID)
}
