package bot

import (
	"context"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/adapters/gocommand"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/inbound"
	"github.com/goliatone/go-govnotify/providers/telegram"
	glog "github.com/goliatone/go-logger/glog"
)

// SubscriptionService is what the bot commands need. The default routes
// through the go-command dispatcher bound by gocommand.Bind.
type SubscriptionService interface {
	Subscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
	Unsubscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
	GetSubscription(ctx context.Context, userID string) (core.Subscription, error)
}

type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Bot answers Telegram commands. It is registered on the inbound dispatcher
// under the telegram.command surface.
type Bot struct {
	Subscriptions SubscriptionService
	Replier       Replier
	Logger        glog.Logger
}

func New(replier Replier, subscriptions SubscriptionService) *Bot {
	if subscriptions == nil {
		subscriptions = DispatchedSubscriptions{}
	}
	return &Bot{Subscriptions: subscriptions, Replier: replier, Logger: glog.Nop()}
}

func (*Bot) Surface() string {
	return inbound.SurfaceTelegramCommand
}

func (b *Bot) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	update, err := telegram.ParseUpdate(req.Body)
	if err != nil {
		return core.InboundResult{Accepted: false, StatusCode: http.StatusBadRequest}, err
	}
	reply, err := b.Respond(ctx, update)
	if err != nil {
		return core.InboundResult{}, err
	}
	if reply != "" {
		if b.Replier == nil {
			return core.InboundResult{}, goerrors.New("bot: replier is not configured", goerrors.CategoryInternal).
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ServiceErrorInternal)
		}
		if err := b.Replier.Reply(ctx, update.Message.Chat.ID, reply); err != nil {
			return core.InboundResult{}, err
		}
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata:   map[string]any{"update_id": update.UpdateID, "replied": reply != ""},
	}, nil
}

// Respond runs the command in update and returns the reply text. Plain
// messages get no reply.
func (b *Bot) Respond(ctx context.Context, update telegram.Update) (string, error) {
	name, args, ok := update.Message.Command()
	if !ok {
		return "", nil
	}
	userID := update.SenderID()
	switch name {
	case "start":
		return welcomeText, nil
	case "help":
		return helpText, nil
	case "subscribe":
		return b.change(ctx, userID, args, "subscribed to", b.subscriptions().Subscribe)
	case "unsubscribe":
		return b.change(ctx, userID, args, "unsubscribed from", b.subscriptions().Unsubscribe)
	case "list_subscriptions", "list":
		sub, err := b.subscriptions().GetSubscription(ctx, userID)
		if err != nil {
			return b.serviceFailure(name, userID, err)
		}
		return listReply(sub), nil
	default:
		return unknownCommandText, nil
	}
}

type mutation func(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)

func (b *Bot) change(ctx context.Context, userID string, args []string, verb string, apply mutation) (string, error) {
	delta, ok := ParseDelta(args)
	if !ok {
		return missingArgumentsText, nil
	}
	if _, err := apply(ctx, userID, delta); err != nil {
		return b.serviceFailure(verb, userID, err)
	}
	return changeReply(verb, delta), nil
}

// ParseDelta reads "project|keyword|ticker <values...>" or "tickers".
func ParseDelta(args []string) (core.SubscriptionDelta, bool) {
	if len(args) == 0 {
		return core.SubscriptionDelta{}, false
	}
	kind := strings.ToLower(strings.TrimSpace(args[0]))
	if kind == "tickers" && len(args) == 1 {
		return core.SubscriptionDelta{Tickers: true}, true
	}
	if len(args) < 2 {
		return core.SubscriptionDelta{}, false
	}
	var delta core.SubscriptionDelta
	switch kind {
	case "project", "projects":
		delta.Projects = args[1:]
	case "keyword", "keywords":
		delta.Keywords = args[1:]
	case "ticker", "tickers":
		delta.Symbols = args[1:]
	default:
		return core.SubscriptionDelta{}, false
	}
	delta = delta.Normalized()
	if delta.IsEmpty() {
		return core.SubscriptionDelta{}, false
	}
	return delta, true
}

// serviceFailure answers bad input in chat and hands anything else back to
// the dispatcher so the update claim is released for a retry.
func (b *Bot) serviceFailure(command string, userID string, err error) (string, error) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && (rich.Category == goerrors.CategoryBadInput || rich.Category == goerrors.CategoryValidation) {
		return missingArgumentsText, nil
	}
	b.logger().Error("bot command failed", "command", command, "user_id", userID, "error", err.Error())
	return "", err
}

func (b *Bot) subscriptions() SubscriptionService {
	if b.Subscriptions == nil {
		return DispatchedSubscriptions{}
	}
	return b.Subscriptions
}

func (b *Bot) logger() glog.Logger {
	if b.Logger == nil {
		return glog.Nop()
	}
	return b.Logger
}

// DispatchedSubscriptions sends bot mutations and lookups through the
// go-command dispatcher.
type DispatchedSubscriptions struct{}

func (DispatchedSubscriptions) Subscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	return gocommand.Subscribe(ctx, userID, delta)
}

func (DispatchedSubscriptions) Unsubscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	return gocommand.Unsubscribe(ctx, userID, delta)
}

func (DispatchedSubscriptions) GetSubscription(ctx context.Context, userID string) (core.Subscription, error) {
	return gocommand.GetSubscription(ctx, userID)
}

// InboundRequest wraps a raw update body for the inbound dispatcher, keyed
// by update_id so Telegram's redeliveries are dropped.
func InboundRequest(body []byte, headers map[string]string) (core.InboundRequest, error) {
	update, err := telegram.ParseUpdate(body)
	if err != nil {
		return core.InboundRequest{}, err
	}
	return core.InboundRequest{
		ProviderID: telegram.ProviderID,
		Surface:    inbound.SurfaceTelegramCommand,
		Headers:    headers,
		Body:       body,
		Metadata:   map[string]any{"update_id": update.UpdateID},
	}, nil
}

var (
	_ core.InboundHandler = (*Bot)(nil)
	_ Replier             = (*telegram.Client)(nil)
	_ SubscriptionService = DispatchedSubscriptions{}
)
