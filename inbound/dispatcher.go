package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-govnotify/core"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	SurfaceWebhook         = "webhook"
	SurfaceTelegramCommand = "telegram.command"
)

const defaultKeyTTL = 10 * time.Minute

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// ClaimStore hands out one claim per idempotency key until the claim is
// completed (key remembered for its TTL) or failed (key released).
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type IdempotencyKeyExtractor func(req core.InboundRequest) (string, error)

type Dispatcher struct {
	Verifier   Verifier
	Store      ClaimStore
	ExtractKey IdempotencyKeyExtractor
	KeyTTL     time.Duration
	Logger     glog.Logger

	mu       sync.RWMutex
	handlers map[string]core.InboundHandler
}

func NewDispatcher(verifier Verifier, store ClaimStore) *Dispatcher {
	return &Dispatcher{
		Verifier:   verifier,
		Store:      store,
		ExtractKey: DefaultIdempotencyKeyExtractor,
		KeyTTL:     defaultKeyTTL,
		Logger:     glog.Nop(),
		handlers:   map[string]core.InboundHandler{},
	}
}

func (d *Dispatcher) Register(handler core.InboundHandler) error {
	if d == nil {
		return inboundFailure(nil, goerrors.CategoryInternal, "inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundFailure(nil, goerrors.CategoryBadInput, "inbound: handler is nil", nil)
	}
	surface := normalizeSurface(handler.Surface())
	if !isSupportedSurface(surface) {
		return inboundFailure(nil, goerrors.CategoryBadInput, fmt.Sprintf("inbound: unsupported surface %q", surface), map[string]any{"surface": surface})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[string]core.InboundHandler{}
	}
	if _, exists := d.handlers[surface]; exists {
		return inboundFailure(nil, goerrors.CategoryConflict, fmt.Sprintf("inbound: handler already registered for surface %q", surface), map[string]any{"surface": surface})
	}
	d.handlers[surface] = handler
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d == nil {
		return core.InboundResult{}, inboundFailure(nil, goerrors.CategoryInternal, "inbound: dispatcher is nil", nil)
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Surface = normalizeSurface(req.Surface)
	fields := map[string]any{"provider_id": req.ProviderID, "surface": req.Surface}
	if req.ProviderID == "" {
		return core.InboundResult{}, inboundFailure(nil, goerrors.CategoryBadInput, "inbound: provider id is required", map[string]any{
			"surface": req.Surface,
		})
	}
	if !isSupportedSurface(req.Surface) {
		return core.InboundResult{}, inboundFailure(nil, goerrors.CategoryBadInput, fmt.Sprintf("inbound: unsupported surface %q", req.Surface), fields)
	}
	if d.Verifier != nil {
		if err := d.Verifier.Verify(ctx, req); err != nil {
			d.logger().Warn("inbound request rejected", "provider_id", req.ProviderID, "surface", req.Surface, "error", err.Error())
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"provider_id": req.ProviderID,
					"surface":     req.Surface,
					"rejected":    true,
				},
			}, inboundFailure(err, goerrors.CategoryAuth, "inbound: request verification failed", fields)
		}
	}

	claimID, deduped, err := d.claim(ctx, req)
	if err != nil {
		return core.InboundResult{}, err
	}
	if deduped {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider_id": req.ProviderID,
				"surface":     req.Surface,
				"deduped":     true,
			},
		}, nil
	}

	handler := d.handlerFor(req.Surface)
	if handler == nil {
		d.release(ctx, claimID, fmt.Errorf("no handler"))
		return core.InboundResult{}, inboundFailure(nil, goerrors.CategoryNotFound, fmt.Sprintf("inbound: no handler registered for surface %q", req.Surface), fields)
	}

	result, err := handler.Handle(ctx, req)
	if err != nil {
		handlerErr := inboundFailure(err, goerrors.CategoryExternal, "inbound: handler execution failed", fields)
		if failErr := d.release(ctx, claimID, err); failErr != nil {
			return core.InboundResult{}, errors.Join(handlerErr, failErr)
		}
		return core.InboundResult{}, handlerErr
	}
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		retryErr := inboundFailure(nil, goerrors.CategoryExternal, fmt.Sprintf("inbound: handler returned retryable status %d", result.StatusCode), map[string]any{
			"provider_id": req.ProviderID,
			"surface":     req.Surface,
			"status_code": result.StatusCode,
		})
		if failErr := d.release(ctx, claimID, retryErr); failErr != nil {
			return result, errors.Join(retryErr, failErr)
		}
		return result, retryErr
	}
	if d.Store != nil && claimID != "" {
		if err := d.Store.Complete(ctx, claimID); err != nil {
			return core.InboundResult{}, inboundFailure(err, goerrors.CategoryInternal, "inbound: complete idempotency claim", map[string]any{"provider_id": req.ProviderID, "surface": req.Surface, "claim_id": claimID})
		}
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["provider_id"] = req.ProviderID
	result.Metadata["surface"] = req.Surface
	return result, nil
}

// claim returns deduped=true when another request already owns the key.
func (d *Dispatcher) claim(ctx context.Context, req core.InboundRequest) (string, bool, error) {
	if d.Store == nil {
		return "", false, nil
	}
	extractor := d.ExtractKey
	if extractor == nil {
		extractor = DefaultIdempotencyKeyExtractor
	}
	key, err := extractor(req)
	if err != nil {
		return "", false, inboundFailure(err, goerrors.CategoryBadInput, "inbound: resolve idempotency key", map[string]any{"provider_id": req.ProviderID, "surface": req.Surface})
	}
	claimID, accepted, err := d.Store.Claim(ctx, req.ProviderID+":"+req.Surface+":"+key, d.keyTTL())
	if err != nil {
		return "", false, inboundFailure(err, goerrors.CategoryInternal, "inbound: idempotency claim failed", map[string]any{
			"provider_id": req.ProviderID,
			"surface":     req.Surface,
			"idempotency": key,
		})
	}
	if !accepted {
		d.logger().Debug("inbound request deduped", "provider_id", req.ProviderID, "surface", req.Surface, "idempotency", key)
	}
	return claimID, !accepted, nil
}

func (d *Dispatcher) release(ctx context.Context, claimID string, cause error) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	if err := d.Store.Fail(ctx, claimID, cause, time.Time{}); err != nil {
		return inboundFailure(err, goerrors.CategoryInternal, "inbound: mark idempotency claim failed", map[string]any{"claim_id": claimID})
	}
	return nil
}

// DefaultIdempotencyKeyExtractor reads idempotency_key, then update_id (the
// Telegram update id), then the Idempotency-Key header.
func DefaultIdempotencyKeyExtractor(req core.InboundRequest) (string, error) {
	if req.Metadata != nil {
		for _, key := range []string{"idempotency_key", "update_id", "delivery_id"} {
			if value := trimAny(req.Metadata[key]); value != "" {
				return value, nil
			}
		}
	}
	for _, key := range []string{"idempotency-key", "x-idempotency-key"} {
		if value := headerValue(req.Headers, key); value != "" {
			return value, nil
		}
	}
	return "", inboundFailure(nil, goerrors.CategoryBadInput, "inbound: idempotency key is required", map[string]any{
		"provider_id": req.ProviderID,
		"surface":     req.Surface,
	})
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return defaultKeyTTL
}

func (d *Dispatcher) logger() glog.Logger {
	if d == nil {
		return glog.Nop()
	}
	return glog.Ensure(d.Logger)
}

func (d *Dispatcher) handlerFor(surface string) core.InboundHandler {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[normalizeSurface(surface)]
}

func normalizeSurface(surface string) string {
	return strings.TrimSpace(strings.ToLower(surface))
}

func isSupportedSurface(surface string) bool {
	switch normalizeSurface(surface) {
	case SurfaceWebhook, SurfaceTelegramCommand:
		return true
	default:
		return false
	}
}

func trimAny(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
