package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultDeliveryConcurrency = 8
	defaultSendTimeout         = 10 * time.Second
	markDeliveredTimeout       = 5 * time.Second
)

type DeliveryWorkerConfig struct {
	Concurrency int
	SendTimeout time.Duration
	Enricher    *Enricher
	Logger      Logger
	Metrics     MetricsRecorder
}

// DeliveryWorker sends a match record's notification to every recipient
// whose status is still pending. It re-reads the record on every call, so
// redelivered notifications only reach recipients that were not marked yet.
type DeliveryWorker struct {
	records     MatchRecordStore
	sender      ChatSender
	enricher    *Enricher
	concurrency int
	sendTimeout time.Duration
	obs         observer
	now         func() time.Time
}

func NewDeliveryWorker(records MatchRecordStore, sender ChatSender, cfg DeliveryWorkerConfig) (*DeliveryWorker, error) {
	if records == nil {
		return nil, fmt.Errorf("core: match record store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("core: chat sender is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultDeliveryConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &DeliveryWorker{
		records:     records,
		sender:      sender,
		enricher:    cfg.Enricher,
		concurrency: cfg.Concurrency,
		sendTimeout: cfg.SendTimeout,
		obs:         newObserver(cfg.Logger, cfg.Metrics),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Process runs one delivery attempt for the notification. It returns
// ErrDeliveryIncomplete when at least one recipient is still pending
// afterwards; the caller's transport is expected to redeliver.
func (w *DeliveryWorker) Process(ctx context.Context, notification Notification) (report DeliveryReport, err error) {
	if w == nil || w.records == nil || w.sender == nil {
		return DeliveryReport{}, fmt.Errorf("core: delivery worker is not configured")
	}
	startedAt := time.Now()
	eventID := strings.TrimSpace(notification.EventID)
	fields := map[string]any{"event_id": eventID}
	defer func() {
		fields["delivered"] = len(report.Delivered)
		fields["failed"] = len(report.Failed)
		fields["skipped"] = len(report.Skipped)
		fields["summary_fallback"] = report.Enriched.Fallback
		w.obs.observeOperation(ctx, startedAt, "deliver", err, fields)
	}()

	if eventID == "" {
		return DeliveryReport{}, fmt.Errorf("%w: event id is required", ErrInvalidNotification)
	}
	report.EventID = eventID

	record, err := w.records.Get(ctx, eventID)
	if err != nil {
		return report, err
	}
	pending := record.Pending()
	for _, userID := range record.Recipients() {
		if record.Deliveries[userID].Delivered {
			report.Skipped = append(report.Skipped, userID)
		}
	}
	if len(pending) == 0 {
		return report, nil
	}

	report.Enriched = w.enricher.Summarize(ctx, EnrichmentText(record.Event))
	if report.Enriched.Fallback {
		w.obs.logWarn(ctx, "summary unavailable, sending fallback text", map[string]any{
			"event_id": eventID,
			"attempts": report.Enriched.Attempts,
			"error":    errorText(report.Enriched.Err),
		})
	}
	text := RenderNotification(record.Event, report.Enriched)

	results := make([]error, len(pending))
	var group errgroup.Group
	group.SetLimit(w.concurrency)
	for i, userID := range pending {
		group.Go(func() error {
			results[i] = w.deliverOne(ctx, eventID, userID, text)
			return nil
		})
	}
	_ = group.Wait()

	for i, userID := range pending {
		if results[i] != nil {
			report.Failed = append(report.Failed, userID)
			continue
		}
		report.Delivered = append(report.Delivered, userID)
	}
	if len(report.Failed) > 0 {
		err = fmt.Errorf("%w: %d of %d recipients pending for event %q",
			ErrDeliveryIncomplete, len(report.Failed), len(pending), eventID)
		return report, err
	}
	return report, nil
}

func (w *DeliveryWorker) deliverOne(ctx context.Context, eventID string, userID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tags := map[string]string{"status": "success"}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	sendErr := w.sender.Send(sendCtx, userID, text)
	cancel()
	if sendErr != nil {
		tags["status"] = "failure"
		w.obs.recordCounter(ctx, metricPrefix+"send.total", 1, tags)
		w.obs.logError(ctx, "notification send failed", map[string]any{
			"event_id": eventID,
			"user_id":  userID,
			"error":    sendErr.Error(),
		})
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), markDeliveredTimeout)
		defer failCancel()
		if err := w.records.RecordFailure(failCtx, eventID, userID, sendErr.Error()); err != nil {
			w.obs.logError(ctx, "record delivery failure failed", map[string]any{
				"event_id": eventID,
				"user_id":  userID,
				"error":    err.Error(),
			})
		}
		return sendErr
	}
	w.obs.recordCounter(ctx, metricPrefix+"send.total", 1, tags)

	// The message is out; persist the mark even if the caller is shutting down.
	markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), markDeliveredTimeout)
	defer markCancel()
	if err := w.records.MarkDelivered(markCtx, eventID, userID, w.now()); err != nil {
		w.obs.logError(ctx, "mark delivered failed", map[string]any{
			"event_id": eventID,
			"user_id":  userID,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
