package gocommand

import (
	"context"
	"errors"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	govcommand "github.com/goliatone/go-govnotify/command"
	"github.com/goliatone/go-govnotify/core"
	govquery "github.com/goliatone/go-govnotify/query"
)

// Service is everything the govnotify command and query handlers read from
// or write to. *core.Service satisfies it.
type Service interface {
	govcommand.MutatingService
	govquery.SubscriptionReader
	govquery.MatchRecordReader
}

// Bindings holds the dispatcher subscriptions created by Bind. Close must be
// called before binding another service in the same process.
type Bindings struct {
	subscriptions []commanddispatcher.Subscription
}

// Bind registers every govnotify command and query with adapter and
// subscribes them on the process-wide dispatcher.
func Bind(adapter *RegistryAdapter, service Service) (*Bindings, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: service is required")
	}
	bindings := &Bindings{}
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[govcommand.SubscribeMessage](adapter, govcommand.NewSubscribeCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[govcommand.UnsubscribeMessage](adapter, govcommand.NewUnsubscribeCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[govcommand.IngestEventMessage](adapter, govcommand.NewIngestEventCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[govcommand.RedeliverEventMessage](adapter, govcommand.NewRedeliverEventCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[govquery.GetSubscriptionMessage, core.Subscription](adapter, govquery.NewGetSubscriptionQuery(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[govquery.ListSubscriptionsMessage, core.SubscriptionPage](adapter, govquery.NewListSubscriptionsQuery(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[govquery.GetMatchRecordMessage, core.MatchRecord](adapter, govquery.NewGetMatchRecordQuery(service))
		},
	}
	for _, step := range steps {
		sub, err := step()
		if err != nil {
			bindings.Close()
			return nil, err
		}
		bindings.subscriptions = append(bindings.subscriptions, sub)
	}
	return bindings, nil
}

func (b *Bindings) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// DispatchResult dispatches msg and returns the value its command stored.
func DispatchResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	collector := gocmd.NewResult[R]()
	if err := Dispatch(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, ok := collector.Load()
	if !ok {
		return zero, errors.New("gocommand: command stored no result")
	}
	return out, nil
}

// Subscribe and the helpers below are the typed entry points used by the
// bot and HTTP surfaces.
func Subscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	return DispatchResult[govcommand.SubscribeMessage, core.Subscription](ctx, govcommand.SubscribeMessage{UserID: userID, Delta: delta})
}

func Unsubscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	return DispatchResult[govcommand.UnsubscribeMessage, core.Subscription](ctx, govcommand.UnsubscribeMessage{UserID: userID, Delta: delta})
}

func Ingest(ctx context.Context, event core.Event) (core.IngestResult, error) {
	return DispatchResult[govcommand.IngestEventMessage, core.IngestResult](ctx, govcommand.IngestEventMessage{Event: event})
}

func Redeliver(ctx context.Context, eventID string) error {
	return Dispatch(ctx, govcommand.RedeliverEventMessage{EventID: eventID})
}

func GetSubscription(ctx context.Context, userID string) (core.Subscription, error) {
	return Query[govquery.GetSubscriptionMessage, core.Subscription](ctx, govquery.GetSubscriptionMessage{UserID: userID})
}

func ListSubscriptions(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error) {
	return Query[govquery.ListSubscriptionsMessage, core.SubscriptionPage](ctx, govquery.ListSubscriptionsMessage{Cursor: cursor, Limit: limit})
}

func GetMatchRecord(ctx context.Context, eventID string) (core.MatchRecord, error) {
	return Query[govquery.GetMatchRecordMessage, core.MatchRecord](ctx, govquery.GetMatchRecordMessage{EventID: eventID})
}

var _ Service = (*core.Service)(nil)
