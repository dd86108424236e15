package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key names one throttle bucket, for example a single Telegram chat.
type Key struct {
	ProviderID string
	Bucket     string
}

func (k Key) normalized() Key {
	return Key{
		ProviderID: strings.ToLower(strings.TrimSpace(k.ProviderID)),
		Bucket:     strings.TrimSpace(k.Bucket),
	}
}

func (k Key) String() string {
	return k.ProviderID + "|" + k.Bucket
}

// Response is what the policy needs to know about a finished call.
type Response struct {
	StatusCode int
	// RetryAfter is the provider's own hint, when it reports one in the body.
	RetryAfter time.Duration
	Headers    map[string]string
}

type State struct {
	Key            Key
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
	Delete(ctx context.Context, key Key) error
}

type ThrottledError struct {
	ProviderID string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s bucket %q throttled for %s", e.ProviderID, e.Bucket, e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": e.ProviderID,
		"bucket":      e.Bucket,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy throttles a bucket after the provider pushes back and
// releases it on the first successful call.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall returns a service error wrapping ThrottledError while key is
// inside its throttle window.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{ProviderID: key.ProviderID, Bucket: key.Bucket, RetryAfter: until.Sub(now)}.ToServiceError()
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res Response) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	state, err := p.Store.Get(ctx, key)
	found := true
	switch {
	case errors.Is(err, ErrStateNotFound):
		found = false
		state = State{Key: key}
	case err != nil:
		return err
	}

	// Only throttled buckets keep state.
	if res.StatusCode != http.StatusTooManyRequests {
		if !found {
			return nil
		}
		return p.Store.Delete(ctx, key)
	}

	now := p.now()
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Attempts++
	delay, ok := retryAfter(res, now)
	if !ok {
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return min(delay, maximum)
}

func retryAfter(res Response, now time.Time) (time.Duration, bool) {
	if res.RetryAfter > 0 {
		return res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[key.normalized().String()]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = state.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key.String()] = state
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key Key) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key.normalized().String())
	return nil
}
