package govnotify

import "github.com/goliatone/go-govnotify/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type SubscriptionStore = core.SubscriptionStore
type EventStore = core.EventStore
type MatchRecordStore = core.MatchRecordStore
type NotificationQueue = core.NotificationQueue
type ChatSender = core.ChatSender
type Summarizer = core.Summarizer

type Event = core.Event
type EventKind = core.EventKind
type Subscription = core.Subscription
type SubscriptionDelta = core.SubscriptionDelta
type SubscriptionPage = core.SubscriptionPage
type MatchRecord = core.MatchRecord
type Notification = core.Notification
type IngestResult = core.IngestResult

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithSubscriptionStore = core.WithSubscriptionStore
	WithEventStore        = core.WithEventStore
	WithMatchRecordStore  = core.WithMatchRecordStore
	WithNotificationQueue = core.WithNotificationQueue
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds the service and the command/query facade over it.
func Setup(cfg Config, opts ...Option) (*Facade, error) {
	service, err := core.NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(service)
}
