package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func seedRecord(t *testing.T, store *MemoryMatchRecordStore, users ...string) MatchRecord {
	t.Helper()
	record, created, err := store.Create(context.Background(), NewMatchRecord(daoVoteEvent().Normalized(), users, time.Now()))
	if err != nil || !created {
		t.Fatalf("seed record: created=%v err=%v", created, err)
	}
	return record
}

func TestDeliveryWorker_DeliversToEveryPendingRecipient(t *testing.T) {
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "u1", "u2", "u3")
	sender := newRecordingSender()
	worker, err := NewDeliveryWorker(store, sender, DeliveryWorkerConfig{Concurrency: 2})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	report, err := worker.Process(context.Background(), Notification{EventID: "e1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if diff := cmp.Diff([]string{"u1", "u2", "u3"}, report.Delivered); diff != "" {
		t.Fatalf("delivered mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1", "u2", "u3"}, sender.recipients()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	record, _ := store.Get(context.Background(), "e1")
	if pending := record.Pending(); len(pending) != 0 {
		t.Fatalf("expected all delivered, pending=%v", pending)
	}
}

func TestDeliveryWorker_ReplayOfCompletedRecordSendsNothing(t *testing.T) {
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "u1", "u2")
	sender := newRecordingSender()
	summarizer := &scriptedSummarizer{summary: "summary"}
	enricher := NewEnricher(summarizer, EnrichmentConfig{})
	worker, _ := NewDeliveryWorker(store, sender, DeliveryWorkerConfig{Enricher: enricher})

	if _, err := worker.Process(context.Background(), Notification{EventID: "e1"}); err != nil {
		t.Fatalf("first process: %v", err)
	}
	sender.reset()
	callsBefore := summarizer.callCount()

	report, err := worker.Process(context.Background(), Notification{EventID: "e1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := sender.recipients(); len(got) != 0 {
		t.Fatalf("expected zero sends on replay, got %v", got)
	}
	if summarizer.callCount() != callsBefore {
		t.Fatalf("expected no enrichment on replay")
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, report.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliveryWorker_FailureIsIsolatedPerRecipient(t *testing.T) {
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "A", "B")
	sender := newRecordingSender()
	sender.fail("A", errors.New("chat not found"))
	metrics := NewMemoryMetricsRecorder()
	worker, _ := NewDeliveryWorker(store, sender, DeliveryWorkerConfig{Metrics: metrics})

	report, err := worker.Process(context.Background(), Notification{EventID: "e1"})
	if !errors.Is(err, ErrDeliveryIncomplete) {
		t.Fatalf("expected incomplete delivery, got %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, report.Failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
	record, _ := store.Get(context.Background(), "e1")
	if !record.Deliveries["B"].Delivered {
		t.Fatalf("expected B delivered")
	}
	a := record.Deliveries["A"]
	if a.Delivered || a.Attempts != 1 || a.LastError != "chat not found" {
		t.Fatalf("unexpected status for A: %+v", a)
	}
	if metrics.Counter("govnotify.send.total") != 2 {
		t.Fatalf("expected two send samples, got %d", metrics.Counter("govnotify.send.total"))
	}

	sender.reset()
	sender.heal("A")
	report, err = worker.Process(context.Background(), Notification{EventID: "e1"})
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, sender.recipients()); diff != "" {
		t.Fatalf("redelivery should only reach A (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, report.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliveryWorker_SendsFallbackWhenSummaryUnavailable(t *testing.T) {
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "u1")
	sender := newRecordingSender()
	summarizer := &alwaysFailSummarizer{}
	enricher := NewEnricher(summarizer, EnrichmentConfig{})
	enricher.Policy.Sleep = noSleep
	worker, _ := NewDeliveryWorker(store, sender, DeliveryWorkerConfig{Enricher: enricher})

	report, err := worker.Process(context.Background(), Notification{EventID: "e1"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !report.Enriched.Fallback {
		t.Fatalf("expected fallback enrichment")
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.calls))
	}
	text := sender.calls[0].text
	if !strings.Contains(text, SummaryFallback(3)) {
		t.Fatalf("expected fallback marker in message, got %q", text)
	}
	if !strings.Contains(text, "Title: DAO Vote") {
		t.Fatalf("expected event title in message, got %q", text)
	}
}

func TestDeliveryWorker_UnknownRecord(t *testing.T) {
	worker, _ := NewDeliveryWorker(NewMemoryMatchRecordStore(), newRecordingSender(), DeliveryWorkerConfig{})
	if _, err := worker.Process(context.Background(), Notification{EventID: "missing"}); !errors.Is(err, ErrMatchRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := worker.Process(context.Background(), Notification{}); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected invalid notification, got %v", err)
	}
}

func TestDeliveryWorker_SendTimeoutLeavesRecipientPending(t *testing.T) {
	store := NewMemoryMatchRecordStore()
	seedRecord(t, store, "slow")
	sender := newRecordingSender()
	sender.delay = time.Second
	worker, _ := NewDeliveryWorker(store, sender, DeliveryWorkerConfig{SendTimeout: 10 * time.Millisecond})

	_, err := worker.Process(context.Background(), Notification{EventID: "e1"})
	if !errors.Is(err, ErrDeliveryIncomplete) {
		t.Fatalf("expected incomplete delivery, got %v", err)
	}
	record, _ := store.Get(context.Background(), "e1")
	if record.Deliveries["slow"].Delivered {
		t.Fatalf("timed out recipient must stay pending")
	}
}

func TestNewDeliveryWorker_RequiresDependencies(t *testing.T) {
	if _, err := NewDeliveryWorker(nil, newRecordingSender(), DeliveryWorkerConfig{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewDeliveryWorker(NewMemoryMatchRecordStore(), nil, DeliveryWorkerConfig{}); err == nil {
		t.Fatalf("expected error without sender")
	}
}
