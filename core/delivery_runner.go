package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDDeliver       = "govnotify.deliver"
	JobParamEventID    = "event_id"
	defaultPollBackoff = time.Second
	ackTimeout         = 5 * time.Second
)

// ErrQueueEmpty is returned by non-blocking dequeuers when nothing is ready.
var ErrQueueEmpty = errors.New("core: queue empty")

// JobAttemptCounter is implemented by deliveries that know how many times the
// message has been handed out, including the current one.
type JobAttemptCounter interface {
	Attempt() int
}

type DeliveryProcessor interface {
	Process(ctx context.Context, notification Notification) (DeliveryReport, error)
}

func NotificationMessage(notification Notification) *JobExecutionMessage {
	eventID := strings.TrimSpace(notification.EventID)
	return &JobExecutionMessage{
		JobID:          JobIDDeliver,
		Parameters:     map[string]any{JobParamEventID: eventID},
		IdempotencyKey: eventID,
	}
}

func NotificationFromMessage(msg *JobExecutionMessage) (Notification, error) {
	if msg == nil {
		return Notification{}, fmt.Errorf("%w: message is nil", ErrInvalidNotification)
	}
	if jobID := strings.TrimSpace(msg.JobID); jobID != JobIDDeliver {
		return Notification{}, fmt.Errorf("%w: unexpected job id %q", ErrInvalidNotification, jobID)
	}
	raw, ok := msg.Parameters[JobParamEventID]
	if !ok {
		return Notification{}, fmt.Errorf("%w: %s parameter is missing", ErrInvalidNotification, JobParamEventID)
	}
	eventID, _ := raw.(string)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Notification{}, fmt.Errorf("%w: %s parameter is empty", ErrInvalidNotification, JobParamEventID)
	}
	return Notification{EventID: eventID}, nil
}

// JobNotificationQueue publishes notifications as job execution messages.
type JobNotificationQueue struct {
	Enqueuer JobEnqueuer
}

func (q JobNotificationQueue) Publish(ctx context.Context, notification Notification) error {
	if q.Enqueuer == nil {
		return fmt.Errorf("core: notification enqueuer is not configured")
	}
	if strings.TrimSpace(notification.EventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidNotification)
	}
	return q.Enqueuer.Enqueue(ctx, NotificationMessage(notification))
}

type DeliveryRunnerConfig struct {
	RedeliveryDelay time.Duration
	MaxRedeliveries int
	PollInterval    time.Duration
	Hook            JobWorkerHook
	Logger          Logger
	Metrics         MetricsRecorder
}

// DeliveryRunner pulls notifications from the transport and acknowledges
// them according to the delivery outcome. Incomplete deliveries are
// requeued with a fixed delay; that requeue is the only retry.
type DeliveryRunner struct {
	dequeuer  JobDequeuer
	processor DeliveryProcessor
	config    DeliveryRunnerConfig
	obs       observer
	now       func() time.Time
}

func NewDeliveryRunner(dequeuer JobDequeuer, processor DeliveryProcessor, config DeliveryRunnerConfig) (*DeliveryRunner, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("core: job dequeuer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("core: delivery processor is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollBackoff
	}
	if config.RedeliveryDelay < 0 {
		config.RedeliveryDelay = 0
	}
	return &DeliveryRunner{
		dequeuer:  dequeuer,
		processor: processor,
		config:    config,
		obs:       newObserver(config.Logger, config.Metrics),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Run processes deliveries until ctx is cancelled.
func (r *DeliveryRunner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("core: delivery runner is not configured")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.obs.logError(ctx, "delivery runner iteration failed", map[string]any{"error": err.Error()})
		}
		if handled {
			continue
		}
		if err := sleepContext(ctx, r.config.PollInterval); err != nil {
			return nil
		}
	}
}

// RunOnce handles at most one delivery. handled is false when nothing was
// dequeued.
func (r *DeliveryRunner) RunOnce(ctx context.Context) (handled bool, err error) {
	if r == nil || r.dequeuer == nil || r.processor == nil {
		return false, fmt.Errorf("core: delivery runner is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) || ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	attempt := 1
	if counter, ok := delivery.(JobAttemptCounter); ok && counter.Attempt() > 0 {
		attempt = counter.Attempt()
	}
	event := JobWorkerEvent{
		Message:   delivery.Message(),
		Attempt:   attempt,
		StartedAt: r.now(),
	}
	r.hookStart(ctx, event)

	// Ack and nack outlive the processing context so shutdown does not strand
	// a claimed message.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	notification, err := NotificationFromMessage(delivery.Message())
	if err != nil {
		event.Err = err
		event.Duration = time.Since(event.StartedAt)
		r.hookFailure(ctx, event)
		return true, joinErrors(err, delivery.Nack(settleCtx, JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}))
	}

	_, procErr := r.processor.Process(ctx, notification)
	event.Err = procErr
	event.Duration = time.Since(event.StartedAt)

	switch {
	case procErr == nil:
		r.hookSuccess(ctx, event)
		return true, delivery.Ack(settleCtx)
	case errors.Is(procErr, ErrMatchRecordNotFound), errors.Is(procErr, ErrInvalidNotification):
		r.hookFailure(ctx, event)
		return true, joinErrors(procErr, delivery.Nack(settleCtx, JobNackOptions{
			DeadLetter: true,
			Reason:     procErr.Error(),
		}))
	case r.config.MaxRedeliveries > 0 && attempt >= r.config.MaxRedeliveries:
		r.hookFailure(ctx, event)
		return true, joinErrors(procErr, delivery.Nack(settleCtx, JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("redelivery limit %d reached: %v", r.config.MaxRedeliveries, procErr),
		}))
	default:
		event.Delay = r.config.RedeliveryDelay
		r.hookRetry(ctx, event)
		return true, delivery.Nack(settleCtx, JobNackOptions{
			Delay:   r.config.RedeliveryDelay,
			Requeue: true,
			Reason:  procErr.Error(),
		})
	}
}

func (r *DeliveryRunner) hookStart(ctx context.Context, event JobWorkerEvent) {
	if r.config.Hook != nil {
		r.config.Hook.OnStart(ctx, event)
	}
}

func (r *DeliveryRunner) hookSuccess(ctx context.Context, event JobWorkerEvent) {
	r.obs.recordCounter(ctx, metricPrefix+"runner.total", 1, map[string]string{"outcome": "ack"})
	if r.config.Hook != nil {
		r.config.Hook.OnSuccess(ctx, event)
	}
}

func (r *DeliveryRunner) hookFailure(ctx context.Context, event JobWorkerEvent) {
	r.obs.recordCounter(ctx, metricPrefix+"runner.total", 1, map[string]string{"outcome": "dead_letter"})
	r.obs.logError(ctx, "notification dead-lettered", map[string]any{
		"attempt": event.Attempt,
		"error":   errorText(event.Err),
	})
	if r.config.Hook != nil {
		r.config.Hook.OnFailure(ctx, event)
	}
}

func (r *DeliveryRunner) hookRetry(ctx context.Context, event JobWorkerEvent) {
	r.obs.recordCounter(ctx, metricPrefix+"runner.total", 1, map[string]string{"outcome": "requeue"})
	r.obs.logWarn(ctx, "notification requeued", map[string]any{
		"attempt":  event.Attempt,
		"delay_ms": event.Delay.Milliseconds(),
		"error":    errorText(event.Err),
	})
	if r.config.Hook != nil {
		r.config.Hook.OnRetry(ctx, event)
	}
}
