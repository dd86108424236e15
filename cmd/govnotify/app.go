package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	govnotify "github.com/goliatone/go-govnotify"
	"github.com/goliatone/go-govnotify/adapters/gocommand"
	"github.com/goliatone/go-govnotify/adapters/gojob"
	"github.com/goliatone/go-govnotify/adapters/gologger"
	"github.com/goliatone/go-govnotify/adapters/prommetrics"
	"github.com/goliatone/go-govnotify/bot"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/httpapi"
	"github.com/goliatone/go-govnotify/inbound"
	"github.com/goliatone/go-govnotify/providers/gemini"
	"github.com/goliatone/go-govnotify/providers/snapshot"
	"github.com/goliatone/go-govnotify/providers/telegram"
	sqlstore "github.com/goliatone/go-govnotify/store/sql"
	"github.com/goliatone/go-govnotify/transport"
	"github.com/goliatone/go-govnotify/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"golang.org/x/sync/errgroup"
)

// app is one wired process. Everything it owns is released by close.
type app struct {
	cfg      FileConfig
	logger   glog.Logger
	facade   *govnotify.Facade
	service  *core.Service
	bindings *gocommand.Bindings
	metrics  *prommetrics.Recorder
	// transports holds the outbound REST and GraphQL adapters shared by
	// the provider clients.
	transports *transport.Registry
	client     *persistence.Client
	factory    *sqlstore.RepositoryFactory

	enqueuer core.JobEnqueuer
	dequeuer core.JobDequeuer
	broker   *gojob.MemoryQueue
}

// newApp builds the service over the configured stores and binds the
// command/query surface.
func newApp(ctx context.Context, cfg FileConfig, provider glog.LoggerProvider) (*app, error) {
	_, logger, _, jobLogger := gologger.ResolveForJob("govnotify", provider, nil)
	a := &app{cfg: cfg, logger: logger, metrics: prommetrics.NewRecorder(nil)}
	a.transports = transport.NewRegistry()
	if err := a.transports.Register(transport.NewRESTAdapter(nil)); err != nil {
		return nil, err
	}
	if err := a.transports.Register(transport.NewGraphQLAdapter(a.hubConfig().HubURL, nil)); err != nil {
		return nil, err
	}

	opts := []govnotify.Option{
		govnotify.WithLoggerProvider(provider),
		govnotify.WithMetricsRecorder(a.metrics),
		govnotify.WithConfigProvider(core.NewCfgxConfigProvider(core.MapConfigLoader{Values: cfg.Service})),
	}

	if cfg.HasDatabase() {
		client, dialect, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.client = client
		if cfg.Database.AutoMigrate {
			if err := migrate(ctx, client, dialect); err != nil {
				a.close()
				return nil, err
			}
		}
		factory, err := a.repositoryFactory()
		if err != nil {
			a.close()
			return nil, err
		}
		outbox, err := sqlstore.NewOutboxQueue(factory.DB(), sqlstore.WithOutboxLease(cfg.Queue.Lease))
		if err != nil {
			a.close()
			return nil, err
		}
		a.factory = factory
		a.enqueuer, a.dequeuer = outbox, outbox
		opts = append(opts, govnotify.WithPersistenceClient(client), govnotify.WithRepositoryFactory(factory))
	} else {
		a.broker = gojob.NewMemoryQueue()
		a.broker.SetLogger(jobLogger)
		a.enqueuer = gojob.NewEnqueuerAdapter(a.broker)
		a.dequeuer = gojob.NewDequeuerAdapter(a.broker, gojob.RetryPolicy{MaxDelay: cfg.Queue.MaxDelay, DeadLetterOnMax: true})
	}
	opts = append(opts, govnotify.WithNotificationQueue(core.JobNotificationQueue{Enqueuer: a.enqueuer}))

	facade, err := govnotify.Setup(govnotify.Config{}, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.facade = facade
	a.service = facade.Service().(*core.Service)

	bindings, err := facade.Bind(gocommand.NewRegistryAdapter(command.NewRegistry()))
	if err != nil {
		a.close()
		return nil, err
	}
	a.bindings = bindings
	return a, nil
}

func (a *app) repositoryFactory() (*sqlstore.RepositoryFactory, error) {
	var opts []sqlstore.FactoryOption
	if ttl := a.subscriptionCacheTTL(); ttl > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = ttl
		cache, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("subscription cache: %w", err)
		}
		opts = append(opts, sqlstore.WithSubscriptionCache(cache))
	}
	return sqlstore.NewRepositoryFactoryFromPersistence(a.client, opts...)
}

// subscriptionCacheTTL reads cache.subscription_ttl ahead of the service so
// the factory can be built with it.
func (a *app) subscriptionCacheTTL() time.Duration {
	cfg, err := core.NewCfgxConfigProvider(core.MapConfigLoader{Values: a.cfg.Service}).Load(context.Background(), core.DefaultConfig())
	if err != nil {
		return core.DefaultConfig().Cache.SubscriptionTTL
	}
	return cfg.Cache.SubscriptionTTL
}

func (a *app) close() {
	if a == nil {
		return
	}
	if a.bindings != nil {
		a.bindings.Close()
		a.bindings = nil
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err.Error())
		}
		a.client = nil
	}
}

// telegramClient is required by serve; it is both the notification sender
// and the bot's replier.
func (a *app) telegramClient() (*telegram.Client, error) {
	cfg := telegram.DefaultConfig()
	cfg.Token = a.cfg.Telegram.Token
	if base := strings.TrimSpace(a.cfg.Telegram.APIBaseURL); base != "" {
		cfg.APIBaseURL = base
	}
	cfg.SendTimeout = a.service.Config().Delivery.SendTimeout
	return telegram.New(cfg, a.transports.MustGet(transport.KindREST))
}

func (a *app) summarizer(ctx context.Context) (core.Summarizer, error) {
	if strings.TrimSpace(a.cfg.Gemini.APIKey) == "" {
		a.logger.Info("gemini api key not set, notifications are sent without summaries")
		return nil, nil
	}
	cfg := gemini.DefaultConfig()
	cfg.APIKey = a.cfg.Gemini.APIKey
	cfg.BaseURL = a.cfg.Gemini.BaseURL
	if model := strings.TrimSpace(a.cfg.Gemini.Model); model != "" {
		cfg.Model = model
	}
	cfg.MaxInputChars = a.service.Config().Enrichment.MaxInputChars
	summarizer, err := gemini.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return summarizer, nil
}

func (a *app) webhookLedger() webhooks.DeliveryLedger {
	if a.factory != nil {
		return a.factory.WebhookDeliveryStore()
	}
	return webhooks.NewMemoryLedger()
}

func (a *app) hubConfig() snapshot.Config {
	cfg := snapshot.DefaultConfig()
	if hub := strings.TrimSpace(a.cfg.Snapshot.HubURL); hub != "" {
		cfg.HubURL = hub
	}
	if a.cfg.Snapshot.FetchTimeout > 0 {
		cfg.FetchTimeout = a.cfg.Snapshot.FetchTimeout
	}
	return cfg
}

func (a *app) snapshotProcessor() *webhooks.Processor {
	var verifier webhooks.Verifier
	if secret := strings.TrimSpace(a.cfg.Snapshot.WebhookSecret); secret != "" {
		verifier = webhooks.HeaderTokenVerifier{Header: snapshot.AuthenticationHeader, Token: secret}
	} else {
		a.logger.Warn("snapshot webhook secret not set, deliveries are not verified")
	}
	handler := snapshot.NewWebhookHandler(snapshot.NewClient(a.hubConfig(), a.transports.MustGet(transport.KindGraphQL)), dispatchedIngester{})
	handler.Logger = a.logger

	processor := webhooks.NewProcessor(verifier, a.webhookLedger(), handler)
	processor.ExtractID = snapshot.DeliveryIDExtractor
	processor.Logger = a.logger
	return processor
}

func (a *app) telegramDispatcher(replier bot.Replier) (*inbound.Dispatcher, error) {
	var verifier inbound.Verifier
	if secret := strings.TrimSpace(a.cfg.Telegram.WebhookSecret); secret != "" {
		verifier = webhooks.HeaderTokenVerifier{Header: telegram.SecretTokenHeader, Token: secret}
	}
	dispatcher := inbound.NewDispatcher(verifier, inbound.NewMemoryClaimStore())
	dispatcher.Logger = a.logger
	b := bot.New(replier, nil)
	b.Logger = a.logger
	if err := dispatcher.Register(b); err != nil {
		return nil, err
	}
	return dispatcher, nil
}

// serve runs the HTTP server and the delivery runners until ctx is done or
// one of them fails.
func (a *app) serve(ctx context.Context) error {
	sender, err := a.telegramClient()
	if err != nil {
		return err
	}
	summarizer, err := a.summarizer(ctx)
	if err != nil {
		return err
	}
	worker, err := a.service.NewDeliveryWorker(sender, summarizer)
	if err != nil {
		return err
	}
	workers := a.service.Config().Delivery.Workers
	if workers <= 0 {
		workers = 1
	}
	runners := make([]*core.DeliveryRunner, 0, workers)
	for range workers {
		runner, err := a.service.NewDeliveryRunner(a.dequeuer, worker, nil)
		if err != nil {
			return err
		}
		runners = append(runners, runner)
	}

	dispatcher, err := a.telegramDispatcher(sender)
	if err != nil {
		return err
	}
	if url := strings.TrimSpace(a.cfg.Telegram.WebhookURL); url != "" {
		if err := sender.SetWebhook(ctx, url, a.cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("register telegram webhook: %w", err)
		}
		a.logger.Info("telegram webhook registered", "url", url)
	}

	api := &httpapi.Server{
		Snapshot:     a.snapshotProcessor(),
		Telegram:     dispatcher,
		Metrics:      a.metrics.Handler(),
		Logger:       a.logger,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}
	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	for _, runner := range runners {
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}
	a.logger.Info("govnotify started", "delivery_runners", len(runners), "durable", a.factory != nil)
	return group.Wait()
}

// redeliver re-enqueues the notification for eventID.
func (a *app) redeliver(ctx context.Context, eventID string) error {
	if a.factory == nil {
		return fmt.Errorf("deliver: a database is required; the in-memory queue does not outlive this process")
	}
	return gocommand.Redeliver(ctx, eventID)
}

type dispatchedIngester struct{}

func (dispatchedIngester) Ingest(ctx context.Context, event core.Event) (core.IngestResult, error) {
	return gocommand.Ingest(ctx, event)
}
