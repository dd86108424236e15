package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func newObservedService(t *testing.T, opts ...Option) (*Service, *captureMetricsRecorder, *captureLogger) {
	t.Helper()
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	opts = append([]Option{
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
		WithNotificationQueue(newFIFOQueue()),
	}, opts...)
	svc, err := NewService(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, metrics, logger
}

func TestServiceObservability_IngestSuccess(t *testing.T) {
	svc, metrics, logger := newObservedService(t)
	if _, err := svc.Subscribe(context.Background(), "u1", SubscriptionDelta{Projects: []string{"s1"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := svc.Ingest(context.Background(), daoVoteEvent()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if !hasCounter(metrics.counters, "govnotify.ingest.total", "success") {
		t.Fatalf("expected govnotify.ingest.total success counter")
	}
	if !hasHistogram(metrics.histograms, "govnotify.ingest.duration_ms", "success") {
		t.Fatalf("expected govnotify.ingest.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "ingest succeeded", "ingest") {
		t.Fatalf("expected ingest succeeded structured log")
	}
	for _, record := range logger.snapshot() {
		if record.msg == "ingest succeeded" && record.fields["matched"] != 1 {
			t.Fatalf("expected matched=1 on ingest log, got %#v", record.fields["matched"])
		}
	}
}

func TestServiceObservability_SubscribeFailure(t *testing.T) {
	svc, metrics, logger := newObservedService(t)
	if _, err := svc.Subscribe(context.Background(), "", SubscriptionDelta{Keywords: []string{"dao"}}); err == nil {
		t.Fatalf("expected subscribe error for blank user")
	}
	if !hasCounter(metrics.counters, "govnotify.subscribe.total", "failure") {
		t.Fatalf("expected subscribe failure counter")
	}
	if !hasLog(logger.snapshot(), "error", "subscribe failed", "subscribe") {
		t.Fatalf("expected subscribe failure log")
	}
}

func TestServiceObservability_NilServiceDoesNotPanic(t *testing.T) {
	var svc *Service
	if _, err := svc.Ingest(context.Background(), daoVoteEvent()); err == nil {
		t.Fatalf("expected error from nil service")
	}
	if err := svc.Redeliver(context.Background(), "e1"); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

func TestObserver_WarnsOnSummaryFallback(t *testing.T) {
	logger := newCaptureLogger()
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "u1")
	enricher := NewEnricher(&alwaysFailSummarizer{}, EnrichmentConfig{})
	enricher.Policy.Sleep = noSleep
	worker, _ := NewDeliveryWorker(store, newRecordingSender(), DeliveryWorkerConfig{Enricher: enricher, Logger: logger})

	if _, err := worker.Process(context.Background(), Notification{EventID: "e1"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	found := false
	for _, record := range logger.snapshot() {
		if record.level == "warn" && record.msg == "summary unavailable, sending fallback text" {
			found = record.fields["attempts"] == 3
		}
	}
	if !found {
		t.Fatalf("expected fallback warning with attempts=3")
	}
}

func TestObserver_FailureLogCarriesError(t *testing.T) {
	logger := newCaptureLogger()
	obs := newObserver(logger, nil)
	obs.observeOperation(context.Background(), time.Now(), "Deliver Batch", errors.New("boom"), nil)

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log, got %d", len(records))
	}
	if records[0].msg != "deliver_batch failed" || records[0].fields["error"] != "boom" {
		t.Fatalf("unexpected log %+v", records[0])
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, operation string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["operation"] == operation {
			return true
		}
	}
	return false
}
