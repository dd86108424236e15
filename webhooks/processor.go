package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/core"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

const (
	defaultClaimLease  = 30 * time.Second
	defaultMaxAttempts = 8
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger remembers every (provider, delivery id) pair. Claim hands out
// a lease only when the delivery is new, due for retry, or its previous lease
// expired; everything else is reported back unclaimed.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type DeliveryIDExtractor func(req core.InboundRequest) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return f(ctx, req)
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	Logger      glog.Logger
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: ExponentialRetryPolicy{},
		Logger:      glog.Nop(),
		ClaimLease:  defaultClaimLease,
		MaxAttempts: defaultMaxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process verifies, claims and handles one webhook delivery. A duplicate of a
// processed or in-flight delivery is accepted without running the handler so
// the sender stops redelivering it.
func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return core.InboundResult{}, webhookInternal(nil, "webhooks: processor requires handler and ledger", nil)
	}

	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return core.InboundResult{}, webhookBadInput("webhooks: provider id is required", nil)
	}
	req.ProviderID = providerID

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			p.logger().Warn("webhook rejected", "provider_id", providerID, "error", err.Error())
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"provider_id": providerID,
					"rejected":    true,
				},
			}, webhookUnauthorized(err, map[string]any{"provider_id": providerID})
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return core.InboundResult{}, webhookWrapError(
			err,
			goerrors.CategoryBadInput,
			"webhooks: delivery id could not be extracted",
			http.StatusBadRequest,
			core.ServiceErrorBadInput,
			map[string]any{"provider_id": providerID},
		)
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, providerID, deliveryID, req.Body, p.claimLease())
	if err != nil {
		return core.InboundResult{}, webhookInternal(err, "webhooks: claim delivery", map[string]any{
			"provider_id": providerID,
			"delivery_id": deliveryID,
		})
	}
	if !claimed {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider_id": providerID,
				"delivery_id": delivery.DeliveryID,
				"status":      delivery.Status,
				"deduped":     true,
			},
		}, nil
	}

	result, err := p.Handler.Handle(ctx, req)
	if err != nil {
		p.fail(ctx, delivery, err)
		return core.InboundResult{}, err
	}
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		retryErr := fmt.Errorf("webhooks: delivery handler returned retryable status %d", result.StatusCode)
		p.fail(ctx, delivery, retryErr)
		return result, webhookInternal(retryErr, retryErr.Error(), map[string]any{
			"provider_id": providerID,
			"delivery_id": deliveryID,
		})
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return core.InboundResult{}, webhookInternal(err, "webhooks: complete delivery", map[string]any{
			"provider_id": providerID,
			"delivery_id": deliveryID,
		})
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["provider_id"] = providerID
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

func (p *Processor) fail(ctx context.Context, delivery DeliveryRecord, cause error) {
	nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
	if err := p.Ledger.Fail(ctx, delivery.ClaimID, cause, nextAttemptAt, p.maxAttempts()); err != nil {
		p.logger().Error("webhook failure not recorded",
			"provider_id", delivery.ProviderID,
			"delivery_id", delivery.DeliveryID,
			"error", err.Error(),
		)
		return
	}
	p.logger().Warn("webhook delivery failed",
		"provider_id", delivery.ProviderID,
		"delivery_id", delivery.DeliveryID,
		"attempt", delivery.Attempts,
		"error", cause.Error(),
	)
}

func DefaultDeliveryIDExtractor(req core.InboundRequest) (string, error) {
	if req.Metadata != nil {
		if value := strings.TrimSpace(fmt.Sprint(req.Metadata["delivery_id"])); value != "" && value != "<nil>" {
			return value, nil
		}
	}
	if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
		return value, nil
	}
	return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := headerValue(req.Headers, key); value != "" {
				return value, nil
			}
		}
		return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
	}
}

// ChainDeliveryIDExtractors returns the first non-empty id, or the last error.
func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
	}
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) logger() glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	return glog.Ensure(p.Logger)
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return defaultClaimLease
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
