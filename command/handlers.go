package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

type SubscriptionMutator interface {
	Subscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
	Unsubscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
}

type EventIngester interface {
	Ingest(ctx context.Context, event core.Event) (core.IngestResult, error)
	Redeliver(ctx context.Context, eventID string) error
}

// MutatingService is the write side of core.Service.
type MutatingService interface {
	SubscriptionMutator
	EventIngester
}

type SubscribeCommand struct {
	service SubscriptionMutator
}

func NewSubscribeCommand(service SubscriptionMutator) *SubscribeCommand {
	return &SubscribeCommand{service: service}
}

func (c *SubscribeCommand) Execute(ctx context.Context, msg SubscribeMessage) error {
	if c == nil || c.service == nil {
		return core.NewServiceError(goerrors.CategoryInternal, "command: subscription service is required")
	}
	out, err := c.service.Subscribe(ctx, msg.UserID, msg.Delta)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnsubscribeCommand struct {
	service SubscriptionMutator
}

func NewUnsubscribeCommand(service SubscriptionMutator) *UnsubscribeCommand {
	return &UnsubscribeCommand{service: service}
}

func (c *UnsubscribeCommand) Execute(ctx context.Context, msg UnsubscribeMessage) error {
	if c == nil || c.service == nil {
		return core.NewServiceError(goerrors.CategoryInternal, "command: subscription service is required")
	}
	out, err := c.service.Unsubscribe(ctx, msg.UserID, msg.Delta)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type IngestEventCommand struct {
	service EventIngester
}

func NewIngestEventCommand(service EventIngester) *IngestEventCommand {
	return &IngestEventCommand{service: service}
}

func (c *IngestEventCommand) Execute(ctx context.Context, msg IngestEventMessage) error {
	if c == nil || c.service == nil {
		return core.NewServiceError(goerrors.CategoryInternal, "command: ingest service is required")
	}
	out, err := c.service.Ingest(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RedeliverEventCommand struct {
	service EventIngester
}

func NewRedeliverEventCommand(service EventIngester) *RedeliverEventCommand {
	return &RedeliverEventCommand{service: service}
}

func (c *RedeliverEventCommand) Execute(ctx context.Context, msg RedeliverEventMessage) error {
	if c == nil || c.service == nil {
		return core.NewServiceError(goerrors.CategoryInternal, "command: ingest service is required")
	}
	return c.service.Redeliver(ctx, msg.EventID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
