package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	obs               observer
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	subscriptionStore SubscriptionStore
	eventStore        EventStore
	matchRecordStore  MatchRecordStore
	queue             NotificationQueue
	matcher           Matcher
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	SubscriptionStore SubscriptionStore
	EventStore        EventStore
	MatchRecordStore  MatchRecordStore
	NotificationQueue NotificationQueue
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("govnotify", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("govnotify"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		switch factory := builder.repositoryFactory.(type) {
		case RepositoryStoreFactory:
			built, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		case StoreProvider:
			stores = factory
		}
		if stores != nil {
			if builder.subscriptionStore == nil {
				builder.subscriptionStore = stores.SubscriptionStore()
			}
			if builder.eventStore == nil {
				builder.eventStore = stores.EventStore()
			}
			if builder.matchRecordStore == nil {
				builder.matchRecordStore = stores.MatchRecordStore()
			}
		}
	}
	if builder.subscriptionStore == nil {
		builder.subscriptionStore = NewMemorySubscriptionStore()
	}
	if builder.eventStore == nil {
		builder.eventStore = NewMemoryEventStore()
	}
	if builder.matchRecordStore == nil {
		builder.matchRecordStore = NewMemoryMatchRecordStore()
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		obs:               newObserver(logger, builder.metricsRecorder),
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		subscriptionStore: builder.subscriptionStore,
		eventStore:        builder.eventStore,
		matchRecordStore:  builder.matchRecordStore,
		queue:             builder.queue,
		matcher: Matcher{
			Workers:   finalConfig.Matching.Workers,
			ChunkSize: finalConfig.Matching.ChunkSize,
		},
		now: builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		SubscriptionStore: s.subscriptionStore,
		EventStore:        s.eventStore,
		MatchRecordStore:  s.matchRecordStore,
		NotificationQueue: s.queue,
	}
}

// Ingest validates an event, matches it against every subscription and,
// when anyone matched, creates the match record and enqueues a notification.
// Re-ingesting the same event reuses the stored record and enqueues again.
func (s *Service) Ingest(ctx context.Context, event Event) (result IngestResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"event_id": strings.TrimSpace(event.EventID),
		"space_id": strings.TrimSpace(event.SpaceID),
		"kind":     string(event.Kind),
	}
	defer func() {
		fields["matched"] = len(result.Matched)
		fields["created"] = result.Created
		s.observeOperation(ctx, startedAt, "ingest", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil || s.eventStore == nil || s.matchRecordStore == nil {
		return IngestResult{}, fmt.Errorf("core: ingest requires subscription, event and match record stores")
	}
	if err = event.Validate(); err != nil {
		err = s.mapError(err)
		return IngestResult{}, err
	}
	event = event.Normalized()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now()
	}
	result.EventID = event.EventID

	stored, _, err := s.eventStore.Save(ctx, event)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}

	matched, err := s.matcher.MatchAll(ctx, stored, s.subscriptionStore.ListAll(ctx))
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	result.Matched = matched
	if len(matched) == 0 {
		return result, nil
	}

	record, created, err := s.matchRecordStore.Create(ctx, NewMatchRecord(stored, matched, s.now()))
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	result.Created = created
	if !created {
		result.Matched = record.Recipients()
	}

	if err = s.publish(ctx, record.EventID); err != nil {
		err = s.mapError(err)
		return result, err
	}
	result.Enqueued = true
	return result, nil
}

// Redeliver enqueues a notification for an existing match record. Delivered
// recipients are skipped by the worker.
func (s *Service) Redeliver(ctx context.Context, eventID string) (err error) {
	startedAt := time.Now()
	fields := map[string]any{"event_id": strings.TrimSpace(eventID)}
	defer func() {
		s.observeOperation(ctx, startedAt, "redeliver", err, fields)
	}()
	if s == nil || s.matchRecordStore == nil {
		return fmt.Errorf("core: match record store is required")
	}
	record, err := s.matchRecordStore.Get(ctx, strings.TrimSpace(eventID))
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["pending"] = len(record.Pending())
	if err = s.publish(ctx, record.EventID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventID string) error {
	if s.queue == nil {
		return fmt.Errorf("core: notification queue is not configured")
	}
	return s.queue.Publish(ctx, Notification{EventID: eventID})
}

func (s *Service) Subscribe(ctx context.Context, userID string, delta SubscriptionDelta) (sub Subscription, err error) {
	return s.mutateSubscription(ctx, "subscribe", userID, delta, func(store SubscriptionStore) (Subscription, error) {
		return store.Upsert(ctx, strings.TrimSpace(userID), delta.Normalized())
	})
}

func (s *Service) Unsubscribe(ctx context.Context, userID string, delta SubscriptionDelta) (sub Subscription, err error) {
	return s.mutateSubscription(ctx, "unsubscribe", userID, delta, func(store SubscriptionStore) (Subscription, error) {
		return store.Remove(ctx, strings.TrimSpace(userID), delta.Normalized())
	})
}

func (s *Service) mutateSubscription(
	ctx context.Context,
	operation string,
	userID string,
	delta SubscriptionDelta,
	fn func(SubscriptionStore) (Subscription, error),
) (sub Subscription, err error) {
	startedAt := time.Now()
	fields := map[string]any{"user_id": strings.TrimSpace(userID)}
	defer func() {
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()
	if s == nil || s.subscriptionStore == nil {
		return Subscription{}, fmt.Errorf("core: subscription store is required")
	}
	if strings.TrimSpace(userID) == "" {
		err = s.mapError(ErrInvalidUserID)
		return Subscription{}, err
	}
	if delta.Normalized().IsEmpty() {
		err = s.mapError(ErrSubscriptionUnchanged)
		return Subscription{}, err
	}
	sub, err = fn(s.subscriptionStore)
	if err != nil {
		err = s.mapError(err)
		return Subscription{}, err
	}
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	if s == nil || s.subscriptionStore == nil {
		return Subscription{}, fmt.Errorf("core: subscription store is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Subscription{}, s.mapError(ErrInvalidUserID)
	}
	sub, err := s.subscriptionStore.Get(ctx, userID)
	if err != nil {
		return Subscription{}, s.mapError(err)
	}
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, cursor string, limit int) (SubscriptionPage, error) {
	if s == nil || s.subscriptionStore == nil {
		return SubscriptionPage{}, fmt.Errorf("core: subscription store is required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	cursor = strings.TrimSpace(cursor)
	if pager, ok := s.subscriptionStore.(SubscriptionPager); ok {
		page, err := pager.ListPage(ctx, cursor, limit)
		if err != nil {
			return SubscriptionPage{}, s.mapError(err)
		}
		return page, nil
	}

	page := SubscriptionPage{Items: []Subscription{}}
	for sub, err := range s.subscriptionStore.ListAll(ctx) {
		if err != nil {
			return SubscriptionPage{}, s.mapError(err)
		}
		if cursor != "" && sub.UserID <= cursor {
			continue
		}
		if len(page.Items) == limit {
			page.NextCursor = page.Items[len(page.Items)-1].UserID
			break
		}
		page.Items = append(page.Items, sub)
	}
	return page, nil
}

func (s *Service) GetMatchRecord(ctx context.Context, eventID string) (MatchRecord, error) {
	if s == nil || s.matchRecordStore == nil {
		return MatchRecord{}, fmt.Errorf("core: match record store is required")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return MatchRecord{}, s.mapError(fmt.Errorf("%w: event id is required", ErrInvalidNotification))
	}
	record, err := s.matchRecordStore.Get(ctx, eventID)
	if err != nil {
		return MatchRecord{}, s.mapError(err)
	}
	return record, nil
}

// NewDeliveryWorker builds a worker over the service's match record store.
// Enrichment is enabled when a summarizer is given and the configuration
// allows it.
func (s *Service) NewDeliveryWorker(sender ChatSender, summarizer Summarizer) (*DeliveryWorker, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is not configured")
	}
	var enricher *Enricher
	if summarizer != nil && s.config.Enrichment.Enabled {
		enricher = NewEnricher(summarizer, s.config.Enrichment)
	}
	return NewDeliveryWorker(s.matchRecordStore, sender, DeliveryWorkerConfig{
		Concurrency: s.config.Delivery.Concurrency,
		SendTimeout: s.config.Delivery.SendTimeout,
		Enricher:    enricher,
		Logger:      s.logger,
		Metrics:     s.metricsRecorder,
	})
}

// NewDeliveryRunner wires a runner for the given transport and worker using
// the service's delivery configuration.
func (s *Service) NewDeliveryRunner(dequeuer JobDequeuer, processor DeliveryProcessor, hook JobWorkerHook) (*DeliveryRunner, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is not configured")
	}
	return NewDeliveryRunner(dequeuer, processor, DeliveryRunnerConfig{
		RedeliveryDelay: s.config.Delivery.RedeliveryDelay,
		MaxRedeliveries: s.config.Delivery.MaxRedeliveries,
		PollInterval:    s.config.Delivery.PollInterval,
		Hook:            hook,
		Logger:          s.logger,
		Metrics:         s.metricsRecorder,
	})
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	s.obs.observeOperation(ctx, startedAt, operation, err, fields)
}
