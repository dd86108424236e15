package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-govnotify/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	subscriptionStore    *SubscriptionStore
	cachedSubscriptions  *CachedSubscriptionStore
	eventStore           *EventStore
	matchRecordStore     *MatchRecordStore
	outboxQueue          *OutboxQueue
	webhookDeliveryStore *WebhookDeliveryStore
}

type FactoryOption func(*RepositoryFactory)

// WithSubscriptionCache puts single-user subscription reads behind cache.
func WithSubscriptionCache(cache repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cache
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.subscriptionStore != nil && f.eventStore != nil && f.matchRecordStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil {
		return nil
	}
	if f.cachedSubscriptions != nil {
		return f.cachedSubscriptions
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) EventStore() core.EventStore {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) MatchRecordStore() core.MatchRecordStore {
	if f == nil {
		return nil
	}
	return f.matchRecordStore
}

func (f *RepositoryFactory) OutboxQueue() *OutboxQueue {
	if f == nil {
		return nil
	}
	return f.outboxQueue
}

func (f *RepositoryFactory) WebhookDeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.webhookDeliveryStore
}

func (f *RepositoryFactory) initStores() error {
	subscriptionStore, err := NewSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore
	if f.cache != nil {
		cached, err := NewCachedSubscriptionStore(subscriptionStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedSubscriptions = cached
	}

	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore

	matchRecordStore, err := NewMatchRecordStore(f.db)
	if err != nil {
		return err
	}
	f.matchRecordStore = matchRecordStore

	outboxQueue, err := NewOutboxQueue(f.db)
	if err != nil {
		return err
	}
	f.outboxQueue = outboxQueue

	webhookDeliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.webhookDeliveryStore = webhookDeliveryStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
