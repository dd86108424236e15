package core

import (
	"context"
	"iter"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error)
	Remove(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error)
	Get(ctx context.Context, userID string) (Subscription, error)
	ListAll(ctx context.Context) iter.Seq2[Subscription, error]
}

// SubscriptionPager is implemented by stores that can serve cursor pages for
// operator listings.
type SubscriptionPager interface {
	ListPage(ctx context.Context, cursor string, limit int) (SubscriptionPage, error)
}

type EventStore interface {
	Save(ctx context.Context, event Event) (stored Event, created bool, err error)
	Get(ctx context.Context, eventID string) (Event, error)
}

type MatchRecordStore interface {
	Create(ctx context.Context, record MatchRecord) (stored MatchRecord, created bool, err error)
	Get(ctx context.Context, eventID string) (MatchRecord, error)
	MarkDelivered(ctx context.Context, eventID string, userID string, at time.Time) error
	RecordFailure(ctx context.Context, eventID string, userID string, reason string) error
}

// ChatSender delivers rendered text to one user of the chat network.
type ChatSender interface {
	Send(ctx context.Context, userID string, text string) error
}

// Summarizer is the third-party text API used for enrichment.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	Idempotency          string
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type InboundRequest struct {
	ProviderID string
	Surface    string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type InboundHandler interface {
	Surface() string
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// NotificationQueue hands matched events to the delivery stage.
type NotificationQueue interface {
	Publish(ctx context.Context, notification Notification) error
}

type StoreProvider interface {
	SubscriptionStore() SubscriptionStore
	EventStore() EventStore
	MatchRecordStore() MatchRecordStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type NotificationService interface {
	Ingest(ctx context.Context, event Event) (IngestResult, error)
	Subscribe(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error)
	Unsubscribe(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error)
	GetSubscription(ctx context.Context, userID string) (Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) (SubscriptionPage, error)
	GetMatchRecord(ctx context.Context, eventID string) (MatchRecord, error)
	Redeliver(ctx context.Context, eventID string) error
}
