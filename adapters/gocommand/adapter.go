package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

// RegistryAdapter keeps the go-command registry that Bind fills. Queries
// are registered as commands so one Initialize covers both.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := commanddispatcher.Dispatch(ctx, msg); err != nil {
		return mapDispatchError(err)
	}
	return nil
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	out, err := commanddispatcher.Query[T, R](ctx, msg)
	if err != nil {
		var zero R
		return zero, mapDispatchError(err)
	}
	return out, nil
}

// mapDispatchError swaps the dispatcher's own text codes for GOVNOTIFY_*
// ones. go-errors clones the handler's envelope when wrapping, so the
// category survives but the text code does not.
func mapDispatchError(err error) error {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || strings.HasPrefix(rich.TextCode, "GOVNOTIFY_") {
		return core.MapError(err)
	}
	if rich.Category == goerrors.CategoryHandler && rich.Source != nil {
		return core.MapError(rich.Source)
	}
	remapped := rich.Clone()
	remapped.TextCode = ""
	return core.MapError(remapped)
}

// RegisterAndSubscribe subscribes cmd on the dispatcher and records it in
// the registry. The subscription is dropped again if registration fails.
func RegisterAndSubscribe[T any](adapter *RegistryAdapter, cmd command.Commander[T], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return subscribeRegistered(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, opts...)
	})
}

func RegisterAndSubscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return subscribeRegistered(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, opts...)
	})
}

func subscribeRegistered(adapter *RegistryAdapter, handler any, subscribe func() commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subscription := subscribe()
	if err := adapter.register(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
