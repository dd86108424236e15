package govnotify

import (
	"fmt"

	"github.com/goliatone/go-govnotify/adapters/gocommand"
	govcommand "github.com/goliatone/go-govnotify/command"
	govquery "github.com/goliatone/go-govnotify/query"
)

// CommandQueryService is what the facade's handlers run against.
// *core.Service satisfies it.
type CommandQueryService interface {
	govcommand.MutatingService
	govquery.SubscriptionReader
	govquery.MatchRecordReader
}

type Commands struct {
	Subscribe      *govcommand.SubscribeCommand
	Unsubscribe    *govcommand.UnsubscribeCommand
	IngestEvent    *govcommand.IngestEventCommand
	RedeliverEvent *govcommand.RedeliverEventCommand
}

type Queries struct {
	GetSubscription   *govquery.GetSubscriptionQuery
	ListSubscriptions *govquery.ListSubscriptionsQuery
	GetMatchRecord    *govquery.GetMatchRecordQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("govnotify: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		Subscribe:      govcommand.NewSubscribeCommand(service),
		Unsubscribe:    govcommand.NewUnsubscribeCommand(service),
		IngestEvent:    govcommand.NewIngestEventCommand(service),
		RedeliverEvent: govcommand.NewRedeliverEventCommand(service),
	}
	facade.queries = Queries{
		GetSubscription:   govquery.NewGetSubscriptionQuery(service),
		ListSubscriptions: govquery.NewListSubscriptionsQuery(service),
		GetMatchRecord:    govquery.NewGetMatchRecordQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Bind registers the facade's service on the go-command registry behind
// adapter so the bot and HTTP surfaces can dispatch to it. Close the
// returned bindings on shutdown.
func (f *Facade) Bind(adapter *gocommand.RegistryAdapter) (*gocommand.Bindings, error) {
	if f == nil || f.service == nil {
		return nil, fmt.Errorf("govnotify: facade is not configured")
	}
	return gocommand.Bind(adapter, f.service)
}
